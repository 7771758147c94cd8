// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package iptoasn

import (
	"math/rand"
	"net/netip"
	"testing"

	"ipasn/pkg/model"
	"ipasn/pkg/util/ipcodec"
)

func mustRange(start, end string, asn uint32) model.IPRange {
	return model.IPRange{
		Start:       netip.MustParseAddr(start),
		End:         netip.MustParseAddr(end),
		ASN:         asn,
		Country:     "AU",
		Description: "test",
	}
}

func TestLocate(t *testing.T) {
	table := []model.IPRange{
		mustRange("1.0.0.0", "1.0.0.255", 1),
		mustRange("1.0.1.0", "1.0.1.255", 2),
		mustRange("1.0.4.0", "1.0.7.255", 3),
		mustRange("8.8.8.8", "8.8.8.8", 4),
	}

	tests := []struct {
		name    string
		ip      string
		wantASN uint32
		found   bool
	}{
		{"inside second range", "1.0.1.10", 2, true},
		{"gap", "1.0.2.10", 0, false},
		{"start boundary", "1.0.4.0", 3, true},
		{"end boundary", "1.0.7.255", 3, true},
		{"first address", "1.0.0.0", 1, true},
		{"single address range", "8.8.8.8", 4, true},
		{"below all ranges", "0.255.255.255", 0, false},
		{"above all ranges", "8.8.8.9", 0, false},
		{"just after first", "1.0.1.0", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Locate(table, netip.MustParseAddr(tt.ip))
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if !ok {
				if got != (model.IPRange{}) {
					t.Errorf("not-found returned %+v", got)
				}
				return
			}
			if got.ASN != tt.wantASN {
				t.Errorf("ASN = %d, want %d", got.ASN, tt.wantASN)
			}
		})
	}
}

func TestLocateEmptyAndSingle(t *testing.T) {
	if _, ok := Locate(nil, netip.MustParseAddr("1.2.3.4")); ok {
		t.Error("nil table reported a match")
	}
	if _, ok := Locate([]model.IPRange{}, netip.MustParseAddr("::1")); ok {
		t.Error("empty table reported a match")
	}

	one := []model.IPRange{mustRange("10.0.0.0", "10.0.0.255", 7)}
	if _, ok := Locate(one, netip.MustParseAddr("9.0.0.0")); ok {
		t.Error("below single range reported a match")
	}
	if _, ok := Locate(one, netip.MustParseAddr("11.0.0.0")); ok {
		t.Error("above single range reported a match")
	}
	if r, ok := Locate(one, netip.MustParseAddr("10.0.0.255")); !ok || r.ASN != 7 {
		t.Errorf("single range end: %+v, %v", r, ok)
	}
}

func TestLocateIPv6(t *testing.T) {
	table := []model.IPRange{
		mustRange("2001:200::", "2001:200:ffff:ffff:ffff:ffff:ffff:ffff", 2500),
		mustRange("2001:4860::", "2001:4860:ffff:ffff:ffff:ffff:ffff:ffff", 15169),
		mustRange("2c0f:fff0::", "2c0f:fff0:ffff:ffff:ffff:ffff:ffff:ffff", 37125),
	}

	if r, ok := Locate(table, netip.MustParseAddr("2001:4860:4860::8888")); !ok || r.ASN != 15169 {
		t.Errorf("got %+v, %v; want AS15169", r, ok)
	}
	if _, ok := Locate(table, netip.MustParseAddr("2001:201::")); ok {
		t.Error("gap reported a match")
	}
}

// randomTable builds a sorted, non-overlapping IPv4 table with random gaps
func randomTable(rng *rand.Rand, n int) []model.IPRange {
	var ranges []model.IPRange
	next := uint32(rng.Intn(1000))
	for i := 0; i < n; i++ {
		size := uint32(rng.Intn(512))
		start := next
		end := start + size
		ranges = append(ranges, model.IPRange{
			Start: ipcodec.Int32ToIPv4(start),
			End:   ipcodec.Int32ToIPv4(end),
			ASN:   uint32(i + 1),
		})
		next = end + 1 + uint32(rng.Intn(3)*rng.Intn(256))
	}
	return ranges
}

// Locate must agree with a linear scan on every probe
func TestLocateMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, n := range []int{0, 1, 2, 3, 10, 257} {
		table := randomTable(rng, n)
		limit := uint32(300000)
		if n > 0 {
			limit = ipcodec.IPv4ToInt32(table[n-1].End) + 10
		}

		for probe := 0; probe < 2000; probe++ {
			ip := ipcodec.Int32ToIPv4(uint32(rng.Int63n(int64(limit) + 1)))

			var want model.IPRange
			wantOK := false
			for _, r := range table {
				if r.Contains(ip) {
					want, wantOK = r, true
					break
				}
			}

			got, ok := Locate(table, ip)
			if ok != wantOK || got != want {
				t.Fatalf("n=%d ip=%s: Locate = (%+v, %v), linear = (%+v, %v)", n, ip, got, ok, want, wantOK)
			}
		}

		for _, r := range table {
			if got, ok := Locate(table, r.Start); !ok || got != r {
				t.Fatalf("n=%d: start %s not located", n, r.Start)
			}
			if got, ok := Locate(table, r.End); !ok || got != r {
				t.Fatalf("n=%d: end %s not located", n, r.End)
			}
		}
	}
}

func TestTablesLookup(t *testing.T) {
	tables := &Tables{
		V4: NewTable(model.FamilyV4, []model.IPRange{
			mustRange("1.0.0.0", "1.0.0.255", 1),
			mustRange("1.0.1.0", "1.0.1.255", 2),
		}),
	}

	if r, ok := tables.Lookup(netip.MustParseAddr("1.0.1.10")); !ok || r.ASN != 2 {
		t.Errorf("got %+v, %v; want AS2", r, ok)
	}
	if _, ok := tables.Lookup(netip.MustParseAddr("1.0.2.10")); ok {
		t.Error("gap reported a match")
	}
	if r, ok := tables.Lookup(netip.MustParseAddr("::ffff:1.0.0.1")); !ok || r.ASN != 1 {
		t.Errorf("mapped address: got %+v, %v; want AS1", r, ok)
	}
	// No v6 table loaded
	if tables.Select(netip.MustParseAddr("2001:db8::1")) != nil {
		t.Error("Select returned a table for a missing family")
	}
	if _, ok := tables.Lookup(netip.MustParseAddr("2001:db8::1")); ok {
		t.Error("missing family reported a match")
	}
}

func BenchmarkLocate(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	table := randomTable(rng, 500000)
	ips := make([]netip.Addr, 1024)
	for i := range ips {
		ips[i] = table[rng.Intn(len(table))].Start
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := Locate(table, ips[i%len(ips)]); !ok {
			b.Fatal("expected a match")
		}
	}
}
