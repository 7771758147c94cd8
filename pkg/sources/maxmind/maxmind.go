// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package maxmind

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"

	"ipasn/pkg/model"
)

// asnRecord mirrors the GeoLite2-ASN record layout
type asnRecord struct {
	AutonomousSystemNumber       uint32 `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// Reader answers ASN (and optionally country) questions from GeoLite2 databases.
// It is used as a second opinion next to the range table.
type Reader struct {
	asn     *maxminddb.Reader
	country *geoip2.Reader
}

// Open opens the ASN database and, if countryPath is not empty, a Country or City database
func Open(asnPath, countryPath string) (*Reader, error) {
	asnDB, err := maxminddb.Open(asnPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ASN database: %w", err)
	}

	r := &Reader{asn: asnDB}
	if countryPath == "" {
		return r, nil
	}

	countryDB, err := geoip2.Open(countryPath)
	if err != nil {
		asnDB.Close()
		return nil, fmt.Errorf("failed to open country database: %w", err)
	}
	r.country = countryDB

	return r, nil
}

// Close closes both database readers
func (r *Reader) Close() error {
	var err error
	if r.asn != nil {
		if e := r.asn.Close(); e != nil {
			err = e
		}
	}
	if r.country != nil {
		if e := r.country.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Lookup returns the MaxMind view of ip. ok is false when the ASN database
// has no network containing ip.
func (r *Reader) Lookup(ip netip.Addr) (info *model.MaxMindInfo, ok bool, err error) {
	netIP := net.IP(ip.AsSlice())

	var rec asnRecord
	network, found, err := r.asn.LookupNetwork(netIP, &rec)
	if err != nil {
		return nil, false, fmt.Errorf("ASN lookup failed: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	info = &model.MaxMindInfo{
		ASN:          rec.AutonomousSystemNumber,
		Organization: rec.AutonomousSystemOrganization,
	}
	if prefix, ok := prefixFromIPNet(network); ok {
		info.Network = prefix.String()
	}

	if r.country != nil {
		c, err := r.country.Country(netIP)
		if err != nil {
			return nil, false, fmt.Errorf("country lookup failed: %w", err)
		}
		info.Country = c.Country.IsoCode
	}

	return info, true, nil
}

// Agrees reports whether MaxMind attributes the address to the same ASN as
// the located range. An unassigned range agrees only with a missing answer.
func Agrees(info *model.MaxMindInfo, r model.IPRange, found bool) bool {
	if info == nil {
		return !found || r.ASN == 0
	}
	return found && info.ASN == r.ASN
}

// prefixFromIPNet converts net.IPNet to netip.Prefix, unmapping IPv4 networks
func prefixFromIPNet(n *net.IPNet) (netip.Prefix, bool) {
	if n == nil {
		return netip.Prefix{}, false
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := n.Mask.Size()
	if bits == 0 {
		return netip.Prefix{}, false
	}
	if addr.Is4In6() && bits == 32 {
		addr = addr.Unmap()
	} else if addr.Is4In6() && bits == 128 && ones >= 96 {
		addr, ones = addr.Unmap(), ones-96
	}
	return netip.PrefixFrom(addr, ones).Masked(), true
}
