// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package model

import "fmt"

// Error types
type Error string

const (
	ErrMalformedRecord   Error = "malformed record"
	ErrInvalidAddress    Error = "invalid address"
	ErrInvalidNumber     Error = "invalid AS number"
	ErrNotFound          Error = "IP not found in range table"
	ErrSourceUnavailable Error = "range source unavailable"
	ErrInvalidIP         Error = "invalid IP address"
	ErrFamilyMismatch    Error = "address family mismatch"
	ErrDatabaseClosed    Error = "database is closed"
	ErrUnorderedTable    Error = "range table is unsorted or overlapping"
)

func (e Error) Error() string {
	return string(e)
}

// RecordError describes why one raw record was rejected.
// Kind is one of the record-level sentinels and is exposed through Unwrap.
type RecordError struct {
	Line  int    // 1-based line number, 0 when parsing a lone record
	Field string // Offending field name, empty for field-count errors
	Value string // Offending field value
	Kind  Error
	Err   error // Underlying parse error, if any
}

func (e *RecordError) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s %q", msg, e.Field, e.Value)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

func (e *RecordError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
