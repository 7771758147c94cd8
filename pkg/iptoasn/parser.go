// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package iptoasn

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"ipasn/pkg/model"
)

// recordFields is the exact field count of an ip2asn record:
// start_ip \t end_ip \t asn \t country \t description
const recordFields = 5

// ParseLine converts one tab-separated record into an IPRange.
// Errors are *model.RecordError with Kind ErrMalformedRecord,
// ErrInvalidAddress or ErrInvalidNumber.
func ParseLine(line string) (model.IPRange, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != recordFields {
		return model.IPRange{}, &model.RecordError{
			Kind: model.ErrMalformedRecord,
			Err:  fmt.Errorf("expected %d fields, got %d", recordFields, len(fields)),
		}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	start, err := parseAddr("start_ip", fields[0])
	if err != nil {
		return model.IPRange{}, err
	}

	end, err := parseAddr("end_ip", fields[1])
	if err != nil {
		return model.IPRange{}, err
	}

	// A range cannot span families
	if model.FamilyOf(start) != model.FamilyOf(end) {
		return model.IPRange{}, &model.RecordError{Field: "end_ip", Value: fields[1], Kind: model.ErrInvalidAddress, Err: model.ErrFamilyMismatch}
	}
	// Both ends of an IPv4 range use the 4-byte form so they compare with IPv4 queries
	if model.FamilyOf(start) == model.FamilyV4 {
		start, end = start.Unmap(), end.Unmap()
	}

	asn, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return model.IPRange{}, &model.RecordError{Field: "number", Value: fields[2], Kind: model.ErrInvalidNumber, Err: err}
	}

	return model.IPRange{
		Start:       start,
		End:         end,
		ASN:         uint32(asn),
		Country:     fields[3],
		Description: fields[4],
	}, nil
}

// parseAddr parses one address field. Zoned IPv6 addresses are rejected:
// a zone is not part of the record format and does not survive storage.
func parseAddr(field, value string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, &model.RecordError{Field: field, Value: value, Kind: model.ErrInvalidAddress, Err: err}
	}
	if addr.Zone() != "" {
		return netip.Addr{}, &model.RecordError{Field: field, Value: value, Kind: model.ErrInvalidAddress, Err: fmt.Errorf("zone %q not allowed", addr.Zone())}
	}
	return addr, nil
}

// FormatLine serializes r back into the tab-separated record form
func FormatLine(r model.IPRange) string {
	return strings.Join([]string{
		r.Start.String(),
		r.End.String(),
		strconv.FormatUint(uint64(r.ASN), 10),
		r.Country,
		r.Description,
	}, "\t")
}

// Parser streams IPRange records from an ip2asn TSV source
type Parser struct {
	scanner *bufio.Scanner
	lineNum int
}

// NewParser creates a new parser for the given reader
func NewParser(r io.Reader) *Parser {
	scanner := bufio.NewScanner(r)
	// Some descriptions are long
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	return &Parser{
		scanner: scanner,
	}
}

// Line returns the number of the last line read
func (p *Parser) Line() int {
	return p.lineNum
}

// Next returns the next record. A rejected record yields a *model.RecordError
// and parsing may continue; io.EOF marks the end of input. Any other error
// comes from the underlying reader and is terminal.
func (p *Parser) Next() (model.IPRange, error) {
	for p.scanner.Scan() {
		p.lineNum++
		line := p.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		r, err := ParseLine(line)
		if err != nil {
			if re, ok := err.(*model.RecordError); ok {
				re.Line = p.lineNum
			}
			return model.IPRange{}, err
		}
		return r, nil
	}

	if err := p.scanner.Err(); err != nil {
		return model.IPRange{}, fmt.Errorf("scanner error at line %d: %w", p.lineNum, err)
	}
	return model.IPRange{}, io.EOF
}
