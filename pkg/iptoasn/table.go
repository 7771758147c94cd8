// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package iptoasn

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"slices"
	"strings"

	"ipasn/pkg/model"
)

// SkipFunc receives every record rejected while building a table.
// err is a *model.RecordError.
type SkipFunc func(err error)

// Table is an ordered, read-only set of ranges of one address family.
// It is built once and safe for concurrent lookups.
type Table struct {
	family model.Family
	ranges []model.IPRange
}

// NewTable wraps ranges, which must already be sorted and non-overlapping.
// The slice is not copied; callers must not modify it afterwards.
func NewTable(family model.Family, ranges []model.IPRange) *Table {
	return &Table{family: family, ranges: ranges}
}

// Family returns the table's address family
func (t *Table) Family() model.Family {
	return t.family
}

// Len returns the number of ranges
func (t *Table) Len() int {
	return len(t.ranges)
}

// At returns the i-th range
func (t *Table) At(i int) model.IPRange {
	return t.ranges[i]
}

// Ranges returns a copy of the ranges in table order
func (t *Table) Ranges() []model.IPRange {
	return slices.Clone(t.ranges)
}

// Lookup returns the range containing ip. Addresses of the other family are
// never compared and report not-found.
func (t *Table) Lookup(ip netip.Addr) (model.IPRange, bool) {
	if model.FamilyOf(ip) != t.family {
		return model.IPRange{}, false
	}
	if t.family == model.FamilyV4 {
		ip = ip.Unmap()
	}
	return Locate(t.ranges, ip)
}

// CheckOrder reports the first place where the table breaks the sorted,
// non-overlapping contract. It never reorders anything.
func (t *Table) CheckOrder() error {
	for i, r := range t.ranges {
		if r.End.Less(r.Start) {
			return fmt.Errorf("%w: range %d (%s-%s) ends before it starts", model.ErrUnorderedTable, i, r.Start, r.End)
		}
		if i == 0 {
			continue
		}
		prev := t.ranges[i-1]
		if !prev.End.Less(r.Start) {
			return fmt.Errorf("%w: range %d (%s) starts at or before end of range %d (%s)",
				model.ErrUnorderedTable, i, r.Start, i-1, prev.End)
		}
	}
	return nil
}

// BuildTable folds the records of r into a table of the given family.
// Rejected records, including records of the other family, are passed to
// onSkip (if non-nil) and construction continues. Only a read failure of r
// itself is returned as an error.
func BuildTable(r io.Reader, family model.Family, onSkip SkipFunc) (*Table, error) {
	parser := NewParser(r)
	var ranges []model.IPRange

	for {
		rec, err := parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var re *model.RecordError
			if !errors.As(err, &re) {
				return nil, err
			}
			if onSkip != nil {
				onSkip(err)
			}
			continue
		}

		if rec.Family() != family {
			if onSkip != nil {
				onSkip(&model.RecordError{
					Line:  parser.Line(),
					Field: "start_ip",
					Value: rec.Start.String(),
					Kind:  model.ErrFamilyMismatch,
				})
			}
			continue
		}

		ranges = append(ranges, rec)
	}

	return NewTable(family, ranges), nil
}

// LoadFile opens path (gzip-compressed if it ends in .gz) and builds a table
// from it. A missing or unreadable file is reported as
// model.ErrSourceUnavailable; an empty file yields an empty table.
func LoadFile(path string, family model.Family, onSkip SkipFunc) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", model.ErrSourceUnavailable, path, err)
		}
		defer gz.Close()
		r = gz
	}

	t, err := BuildTable(r, family, onSkip)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return t, nil
}
