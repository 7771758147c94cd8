// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package model

import (
	"net/netip"
	"time"
)

// IPRange is one contiguous block of address space and its AS metadata.
// Start and End are of the same family and bound a closed interval.
type IPRange struct {
	Start       netip.Addr // Inclusive start
	End         netip.Addr // Inclusive end
	ASN         uint32     // Origin ASN (0 = not routed)
	Country     string     // Country code, "None" for unassigned space
	Description string     // AS / organization name
}

// Contains reports whether ip lies within [Start, End]
func (r IPRange) Contains(ip netip.Addr) bool {
	return ip.Compare(r.Start) >= 0 && ip.Compare(r.End) <= 0
}

// Family returns the address family of the range
func (r IPRange) Family() Family {
	return FamilyOf(r.Start)
}

// Family identifies an address family. Tables and comparisons never mix families.
type Family int

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// FamilyOf returns the family of ip. IPv4-mapped IPv6 addresses count as IPv4.
func FamilyOf(ip netip.Addr) Family {
	if ip.Unmap().Is4() {
		return FamilyV4
	}
	return FamilyV6
}

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return "unknown"
	}
}

// LookupResult is the output format for IP lookups
type LookupResult struct {
	IP          string       `json:"ip"`
	Found       bool         `json:"found"`
	Family      string       `json:"family"`
	Start       string       `json:"start,omitempty"`
	End         string       `json:"end,omitempty"`
	ASN         uint32       `json:"asn"`
	Country     string       `json:"country,omitempty"`
	Description string       `json:"description,omitempty"`
	MaxMind     *MaxMindInfo `json:"maxmind,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// MaxMindInfo is the GeoLite2 view of an address, attached to a lookup as a second opinion
type MaxMindInfo struct {
	ASN          uint32 `json:"asn"`
	Organization string `json:"organization,omitempty"`
	Network      string `json:"network,omitempty"`
	Country      string `json:"country,omitempty"`
}

// NewLookupResult converts a locator outcome into a LookupResult
func NewLookupResult(ip netip.Addr, r IPRange, found bool) *LookupResult {
	res := &LookupResult{
		IP:     ip.String(),
		Found:  found,
		Family: FamilyOf(ip).String(),
	}
	if !found {
		return res
	}
	res.Start = r.Start.String()
	res.End = r.End.String()
	res.ASN = r.ASN
	res.Country = r.Country
	res.Description = r.Description
	return res
}

// FamilyStats summarizes one range table
type FamilyStats struct {
	Ranges     int64            `msgpack:"ranges" json:"ranges"`
	Unassigned int64            `msgpack:"unassigned" json:"unassigned"` // Ranges with ASN 0
	UniqueASNs int              `msgpack:"unique_asns" json:"unique_asns"`
	Addresses  string           `msgpack:"addresses" json:"addresses"` // Decimal uint128
	ByCountry  map[string]int64 `msgpack:"by_country" json:"by_country"`
}

// Stats represents statistics about a built range database
type Stats struct {
	V4        *FamilyStats `msgpack:"v4" json:"v4,omitempty"`
	V6        *FamilyStats `msgpack:"v6" json:"v6,omitempty"`
	Skipped   int64        `msgpack:"skipped" json:"skipped"` // Records rejected by the parser
	SourceURL string       `msgpack:"source_url" json:"source_url,omitempty"`
	BuiltAt   time.Time    `msgpack:"built_at" json:"built_at"`
}

// FetchMetadata stores HTTP fetch metadata for incremental updates
type FetchMetadata struct {
	SourceURL    string    `json:"source_url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
	CachePath    string    `json:"cache_path"`
	FetchedAt    time.Time `json:"fetched_at"`
}
