// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package iptoasn

import (
	"errors"
	"io"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ipasn/pkg/model"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     model.IPRange
		wantKind error
	}{
		{
			name:  "valid IPv4 line",
			input: "10.20.30.40\t10.20.30.50\t12345\tVN\tDescription Goes Here",
			want: model.IPRange{
				Start:       netip.MustParseAddr("10.20.30.40"),
				End:         netip.MustParseAddr("10.20.30.50"),
				ASN:         12345,
				Country:     "VN",
				Description: "Description Goes Here",
			},
		},
		{
			name:  "valid IPv6 line",
			input: "2001:200::\t2001:200:ffff:ffff:ffff:ffff:ffff:ffff\t2500\tJP\tWIDE-BB WIDE Project",
			want: model.IPRange{
				Start:       netip.MustParseAddr("2001:200::"),
				End:         netip.MustParseAddr("2001:200:ffff:ffff:ffff:ffff:ffff:ffff"),
				ASN:         2500,
				Country:     "JP",
				Description: "WIDE-BB WIDE Project",
			},
		},
		{
			name:  "fields are trimmed",
			input: " 1.0.0.0 \t 1.0.0.255\t 13335 \tUS \t CLOUDFLARENET ",
			want: model.IPRange{
				Start:       netip.MustParseAddr("1.0.0.0"),
				End:         netip.MustParseAddr("1.0.0.255"),
				ASN:         13335,
				Country:     "US",
				Description: "CLOUDFLARENET",
			},
		},
		{
			name:  "unassigned range keeps ASN 0",
			input: "0.0.0.0\t0.255.255.255\t0\tNone\tNot routed",
			want: model.IPRange{
				Start:       netip.MustParseAddr("0.0.0.0"),
				End:         netip.MustParseAddr("0.255.255.255"),
				ASN:         0,
				Country:     "None",
				Description: "Not routed",
			},
		},
		{
			name:  "largest 32-bit ASN",
			input: "1.0.0.0\t1.0.0.255\t4294967295\tZZ\tmax",
			want: model.IPRange{
				Start:       netip.MustParseAddr("1.0.0.0"),
				End:         netip.MustParseAddr("1.0.0.255"),
				ASN:         4294967295,
				Country:     "ZZ",
				Description: "max",
			},
		},
		{
			name:  "IPv4-mapped start is stored as IPv4",
			input: "::ffff:1.0.0.0\t1.0.0.255\t5\tUS\tmapped",
			want: model.IPRange{
				Start:       netip.MustParseAddr("1.0.0.0"),
				End:         netip.MustParseAddr("1.0.0.255"),
				ASN:         5,
				Country:     "US",
				Description: "mapped",
			},
		},
		{
			name:     "zoned start address",
			input:    "fe80::1%eth0\tfe80::ffff\t64512\tZZ\tlink local",
			wantKind: model.ErrInvalidAddress,
		},
		{
			name:     "zoned end address",
			input:    "fe80::1\tfe80::ffff%2\t64512\tZZ\tlink local",
			wantKind: model.ErrInvalidAddress,
		},
		{
			name:     "invalid start address",
			input:    "10.20.30.400\t10.20.30.50\t12345\tVN\tDescription Goes Here",
			wantKind: model.ErrInvalidAddress,
		},
		{
			name:     "invalid end address",
			input:    "10.20.30.40\tnot-an-ip\t12345\tVN\tDescription Goes Here",
			wantKind: model.ErrInvalidAddress,
		},
		{
			name:     "mixed families",
			input:    "10.20.30.40\t2001:db8::1\t12345\tVN\tDescription Goes Here",
			wantKind: model.ErrInvalidAddress,
		},
		{
			name:     "invalid number",
			input:    "10.20.30.40\t10.20.30.50\tfoo\tVN\tDescription Goes Here",
			wantKind: model.ErrInvalidNumber,
		},
		{
			name:     "negative number",
			input:    "10.20.30.40\t10.20.30.50\t-1\tVN\tDescription Goes Here",
			wantKind: model.ErrInvalidNumber,
		},
		{
			name:     "number overflows 32 bits",
			input:    "10.20.30.40\t10.20.30.50\t4294967296\tVN\tDescription Goes Here",
			wantKind: model.ErrInvalidNumber,
		},
		{
			name:     "missing fields",
			input:    "10.20.30.40\t10.20.30.50\t12345",
			wantKind: model.ErrMalformedRecord,
		},
		{
			name:     "tab inside description",
			input:    "10.20.30.40\t10.20.30.50\t12345\tVN\tDescription\tGoes Here",
			wantKind: model.ErrMalformedRecord,
		},
		{
			name:     "empty line",
			input:    "",
			wantKind: model.ErrMalformedRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.input)

			if tt.wantKind != nil {
				if !errors.Is(err, tt.wantKind) {
					t.Fatalf("got error %v, want kind %v", err, tt.wantKind)
				}
				var re *model.RecordError
				if !errors.As(err, &re) {
					t.Fatalf("error %T is not a *model.RecordError", err)
				}
				if got != (model.IPRange{}) {
					t.Errorf("got non-zero range %+v alongside error", got)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
				t.Errorf("ParseLine mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLineMappedRangeIsLocatable(t *testing.T) {
	r, err := ParseLine("::ffff:1.0.0.0\t::ffff:1.0.0.255\t5\tUS\tmapped")
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}
	if !r.Start.Is4() || !r.End.Is4() {
		t.Fatalf("range not in IPv4 form: %s-%s", r.Start, r.End)
	}
	for _, ip := range []string{"1.0.0.0", "1.0.0.5", "1.0.0.255"} {
		if got, ok := Locate([]model.IPRange{r}, netip.MustParseAddr(ip)); !ok || got.ASN != 5 {
			t.Errorf("Locate(%s) = %+v, %v", ip, got, ok)
		}
	}
}

func TestParseLineRoundTrip(t *testing.T) {
	lines := []string{
		"10.20.30.40\t10.20.30.50\t12345\tVN\tDescription Goes Here",
		"1.0.0.0\t1.0.0.255\t13335\tUS\tCLOUDFLARENET",
		"0.0.0.0\t0.255.255.255\t0\tNone\tNot routed",
		"2001:db8::\t2001:db8::ffff\t64512\tDE\tExample, GmbH",
		"2c0f:fff0::\t2c0f:ffff:ffff:ffff:ffff:ffff:ffff:ffff\t4294967295\tNG\t",
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			first, err := ParseLine(line)
			if err != nil {
				t.Fatalf("ParseLine failed: %v", err)
			}
			second, err := ParseLine(FormatLine(first))
			if err != nil {
				t.Fatalf("re-parse failed: %v", err)
			}
			if first != second {
				t.Errorf("round trip changed record: %+v -> %+v", first, second)
			}
		})
	}
}

func TestParserNext(t *testing.T) {
	input := strings.Join([]string{
		"1.0.0.0\t1.0.0.255\t13335\tUS\tCLOUDFLARENET",
		"",
		"1.0.1.0\t1.0.1.999\t1\tCN\tbad end",
		"1.0.2.0\t1.0.2.255\tx\tCN\tbad number",
		"1.0.4.0\t1.0.7.255\t38803\tAU\tWPL-AS-AP",
	}, "\n")

	parser := NewParser(strings.NewReader(input))

	r, err := parser.Next()
	if err != nil || r.ASN != 13335 {
		t.Fatalf("first record: %+v, %v", r, err)
	}

	_, err = parser.Next()
	var re *model.RecordError
	if !errors.As(err, &re) || re.Line != 3 || !errors.Is(err, model.ErrInvalidAddress) {
		t.Fatalf("expected invalid address on line 3, got %v", err)
	}
	if re.Field != "end_ip" {
		t.Errorf("Field = %q, want end_ip", re.Field)
	}

	_, err = parser.Next()
	if !errors.As(err, &re) || re.Line != 4 || !errors.Is(err, model.ErrInvalidNumber) {
		t.Fatalf("expected invalid number on line 4, got %v", err)
	}

	r, err = parser.Next()
	if err != nil || r.ASN != 38803 {
		t.Fatalf("last record: %+v, %v", r, err)
	}

	if _, err := parser.Next(); err != io.EOF {
		t.Errorf("got %v, want io.EOF", err)
	}
}

func TestRecordErrorMessage(t *testing.T) {
	_, err := ParseLine("10.20.30.40\t10.20.30.50\tfoo\tVN\tx")
	var re *model.RecordError
	if !errors.As(err, &re) {
		t.Fatalf("expected *model.RecordError, got %T", err)
	}
	re.Line = 7
	msg := re.Error()
	for _, want := range []string{"line 7", "invalid AS number", "number", `"foo"`} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
