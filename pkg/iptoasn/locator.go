// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package iptoasn

import (
	"net/netip"

	"ipasn/pkg/model"
)

// Locate returns the range in ranges whose closed interval contains ip.
//
// ranges must be sorted ascending by Start, non-overlapping, and of the same
// family as ip. Input that breaks these rules gives undefined results; use
// Table.CheckOrder to detect it. Lookups are O(log N) and never mutate ranges,
// so concurrent callers may share one slice.
func Locate(ranges []model.IPRange, ip netip.Addr) (model.IPRange, bool) {
	if len(ranges) == 0 {
		return model.IPRange{}, false
	}

	low, high := 0, len(ranges)-1
	for low <= high {
		mid := (low + high) / 2
		r := ranges[mid]
		switch {
		case r.Contains(ip):
			return r, true
		case ip.Less(r.Start):
			high = mid - 1
		default:
			low = mid + 1
		}
	}

	return model.IPRange{}, false
}

// Tables holds one range table per address family
type Tables struct {
	V4 *Table
	V6 *Table
}

// Select returns the table matching the family of ip, or nil if none is loaded
func (t *Tables) Select(ip netip.Addr) *Table {
	if model.FamilyOf(ip) == model.FamilyV4 {
		return t.V4
	}
	return t.V6
}

// Lookup locates ip in the table of its family. A missing table is not-found.
func (t *Tables) Lookup(ip netip.Addr) (model.IPRange, bool) {
	table := t.Select(ip)
	if table == nil {
		return model.IPRange{}, false
	}
	return table.Lookup(ip)
}
