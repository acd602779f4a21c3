package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	codeRe  = regexp.MustCompile(`^([A-Za-z][A-Za-z\-_ ]*?)?\s*(\d+)$`)
	rangeRe = regexp.MustCompile(`^\s*(\S+?)\s*(?:-|\.\.|–)\s*(\S+)\s*$`)
)

// ErrInvalidCode is wrapped by every parse failure.
var ErrInvalidCode = errors.New("invalid locker code")

// MaxRange caps how many codes a single range may expand to.
const MaxRange = 500

// ParsedCode holds the structured parts of a locker code such as "L12".
type ParsedCode struct {
	Prefix string
	Number int
	Width  int // digits as written, to keep zero padding ("L007")
}

// String renders the code back with its original padding.
func (p ParsedCode) String() string {
	return fmt.Sprintf("%s%0*d", p.Prefix, p.Width, p.Number)
}

// ParseCode splits a locker code into prefix and trailing number.
func ParseCode(raw string) (ParsedCode, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	m := codeRe.FindStringSubmatch(s)
	if m == nil {
		return ParsedCode{}, fmt.Errorf("%w: %q", ErrInvalidCode, raw)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return ParsedCode{}, fmt.Errorf("%w: number in %q: %v", ErrInvalidCode, raw, err)
	}
	return ParsedCode{Prefix: strings.TrimSpace(m[1]), Number: n, Width: len(m[2])}, nil
}

// ExpandRange turns "L1-L20" (or "L1..L20") into the list of codes it covers.
// A single code expands to itself. The end may omit the prefix ("L1-20").
func ExpandRange(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCode)
	}

	m := rangeRe.FindStringSubmatch(raw)
	if m == nil {
		return []string{strings.ToUpper(raw)}, nil
	}

	from, err := ParseCode(m[1])
	if err != nil {
		return nil, err
	}
	to, err := ParseCode(m[2])
	if err != nil {
		return nil, err
	}
	if to.Prefix == "" {
		to.Prefix = from.Prefix
	}
	if to.Prefix != from.Prefix {
		return nil, fmt.Errorf("%w: range %q mixes prefixes %q and %q", ErrInvalidCode, raw, from.Prefix, to.Prefix)
	}
	if to.Number < from.Number {
		return nil, fmt.Errorf("%w: range %q is reversed", ErrInvalidCode, raw)
	}
	if to.Number-from.Number+1 > MaxRange {
		return nil, fmt.Errorf("%w: range %q exceeds %d lockers", ErrInvalidCode, raw, MaxRange)
	}

	codes := make([]string, 0, to.Number-from.Number+1)
	for n := from.Number; n <= to.Number; n++ {
		c := from
		c.Number = n
		codes = append(codes, c.String())
	}
	return codes, nil
}
