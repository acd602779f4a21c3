package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCode(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  ParsedCode
		expectErr bool
	}{
		{name: "Simple", raw: "L12", expected: ParsedCode{Prefix: "L", Number: 12, Width: 2}},
		{name: "Lowercase and spaces", raw: " l 3 ", expected: ParsedCode{Prefix: "L", Number: 3, Width: 1}},
		{name: "Zero padded", raw: "CAS007", expected: ParsedCode{Prefix: "CAS", Number: 7, Width: 3}},
		{name: "Number only", raw: "42", expected: ParsedCode{Number: 42, Width: 2}},
		{name: "No number", raw: "LOCKER", expectErr: true},
		{name: "Number in the middle", raw: "L1A", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseCode(tc.raw)
			if tc.expectErr {
				assert.ErrorIs(t, err, ErrInvalidCode)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestExpandRange(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  []string
		expectErr bool
	}{
		{name: "Single code", raw: "l7", expected: []string{"L7"}},
		{name: "Dash range", raw: "L1-L3", expected: []string{"L1", "L2", "L3"}},
		{name: "Dots and bare end", raw: "L9..11", expected: []string{"L9", "L10", "L11"}},
		{name: "Keeps padding", raw: "C08-C10", expected: []string{"C08", "C09", "C10"}},
		{name: "Mixed prefixes", raw: "A1-B3", expectErr: true},
		{name: "Reversed", raw: "L5-L1", expectErr: true},
		{name: "Too large", raw: "L1-L1000", expectErr: true},
		{name: "Empty", raw: " ", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpandRange(tc.raw)
			if tc.expectErr {
				assert.ErrorIs(t, err, ErrInvalidCode)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
