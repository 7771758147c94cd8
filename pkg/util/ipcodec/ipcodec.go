// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package ipcodec

import (
	"fmt"
	"net/netip"

	"lukechampine.com/uint128"

	"ipasn/pkg/model"
)

const (
	// Key prefixes for LevelDB
	PrefixRangeV4 = "R4:"
	PrefixRangeV6 = "R6:"
	PrefixMeta    = "meta:"
	PrefixStats   = "stats:"
)

// RangePrefix returns the key prefix for ranges of the family of ip
func RangePrefix(v4 bool) string {
	if v4 {
		return PrefixRangeV4
	}
	return PrefixRangeV6
}

// EncodeRangeKey creates a LevelDB key for an IP range start
// Format: "R4:" + 4-byte big-endian IP (IPv4) or "R6:" + 16-byte big-endian IP (IPv6)
func EncodeRangeKey(ip netip.Addr) []byte {
	ip = ip.Unmap()
	prefix := RangePrefix(ip.Is4())
	key := make([]byte, 0, len(prefix)+ip.BitLen()/8)
	key = append(key, prefix...)
	return append(key, ip.AsSlice()...)
}

// DecodeRangeKey extracts the IP address from a range key
func DecodeRangeKey(key []byte) (netip.Addr, error) {
	var want int
	switch {
	case hasPrefix(key, PrefixRangeV4):
		key, want = key[len(PrefixRangeV4):], 4
	case hasPrefix(key, PrefixRangeV6):
		key, want = key[len(PrefixRangeV6):], 16
	default:
		return netip.Addr{}, fmt.Errorf("invalid range key prefix")
	}

	if len(key) != want {
		return netip.Addr{}, fmt.Errorf("invalid range key length: %d", len(key))
	}
	addr, ok := netip.AddrFromSlice(key)
	if !ok {
		return netip.Addr{}, fmt.Errorf("invalid address bytes")
	}
	return addr, nil
}

func hasPrefix(key []byte, prefix string) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == prefix
}

// MetaKey creates a metadata key
func MetaKey(suffix string) []byte {
	return []byte(PrefixMeta + suffix)
}

// StatsKey creates a statistics key
func StatsKey(suffix string) []byte {
	return []byte(PrefixStats + suffix)
}

// ParseIP parses an IP address string
func ParseIP(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %w", model.ErrInvalidIP, err)
	}
	return addr.Unmap(), nil
}

// AddrToUint128 returns ip as a big-endian 128-bit integer.
// IPv4 addresses map to the low 32 bits.
func AddrToUint128(ip netip.Addr) uint128.Uint128 {
	ip = ip.Unmap()
	if ip.Is4() {
		return uint128.From64(uint64(IPv4ToInt32(ip)))
	}
	b := ip.As16()
	return uint128.FromBytesBE(b[:])
}

// AddrCount returns the number of addresses in [start, end].
// The full IPv6 space saturates at uint128.Max.
func AddrCount(start, end netip.Addr) uint128.Uint128 {
	s, e := AddrToUint128(start), AddrToUint128(end)
	if e.Cmp(s) < 0 {
		return uint128.Zero
	}
	span := e.Sub(s)
	if span.Equals(uint128.Max) {
		return uint128.Max
	}
	return span.Add64(1)
}

// SaturatingAdd returns a+b, clamped to uint128.Max
func SaturatingAdd(a, b uint128.Uint128) uint128.Uint128 {
	if a.Cmp(uint128.Max.Sub(b)) > 0 {
		return uint128.Max
	}
	return a.Add(b)
}

// Int32ToIPv4 converts a uint32 to an IPv4 address
func Int32ToIPv4(n uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

// IPv4ToInt32 converts an IPv4 address to uint32, 0 for other families
func IPv4ToInt32(ip netip.Addr) uint32 {
	ip = ip.Unmap()
	if !ip.Is4() {
		return 0
	}
	b := ip.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
