// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package iptoasn

import (
	"time"

	"lukechampine.com/uint128"

	"ipasn/pkg/model"
	"ipasn/pkg/util/ipcodec"
)

// ComputeStats summarizes the given tables. Nil tables are ignored.
func ComputeStats(tables *Tables, skipped int64) *model.Stats {
	stats := &model.Stats{
		Skipped: skipped,
		BuiltAt: time.Now(),
	}
	if tables == nil {
		return stats
	}
	if tables.V4 != nil {
		stats.V4 = familyStats(tables.V4)
	}
	if tables.V6 != nil {
		stats.V6 = familyStats(tables.V6)
	}
	return stats
}

func familyStats(t *Table) *model.FamilyStats {
	fs := &model.FamilyStats{
		ByCountry: make(map[string]int64),
	}
	asns := make(map[uint32]struct{})
	total := uint128.Zero

	for i := 0; i < t.Len(); i++ {
		r := t.At(i)
		fs.Ranges++
		if r.ASN == 0 {
			fs.Unassigned++
		} else {
			asns[r.ASN] = struct{}{}
		}
		fs.ByCountry[r.Country]++
		total = ipcodec.SaturatingAdd(total, ipcodec.AddrCount(r.Start, r.End))
	}

	fs.UniqueASNs = len(asns)
	fs.Addresses = total.String()
	return fs
}
