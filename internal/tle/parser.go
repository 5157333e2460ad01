package tle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrShortLine  = errors.New("line too short for fixed-column fields")
	ErrLinePrefix = errors.New("unexpected line number prefix")
	ErrChecksum   = errors.New("checksum mismatch")
	ErrInvariant  = errors.New("orbital element invariant violated")
	ErrTruncated  = errors.New("record truncated")
	ErrNumber     = errors.New("malformed numeric field")
)

// minLineLen is the shortest element line that still holds every field.
// Column 69 (checksum) is optional unless checksums are verified.
const minLineLen = 68

// ParseError reports a malformed record. Line is the 1-based line number in
// the input (0 for records parsed outside a stream) and Field names the
// offending fixed-column field.
type ParseError struct {
	Line  int
	Field string
	Name  string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("tle: line %d (%s): field %s: %v", e.Line, e.Name, e.Field, e.Err)
	}
	return fmt.Sprintf("tle: line %d: field %s: %v", e.Line, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Options controls how raw catalog text is interpreted.
type Options struct {
	Class          Classification // tag applied to every record (default Catalog)
	DetectDebris   bool           // tag names with DEB or R/B tokens as Debris
	VerifyChecksum bool
}

// ParseResult holds every record that parsed plus the errors for those that did not.
type ParseResult struct {
	Sets   []ElementSet
	Errors []*ParseError
}

type numberedLine struct {
	n    int
	text string
}

// Parse reads catalog text in either "0 NAME" three-line blocks, plain
// NAME/line1/line2 blocks, or bare two-line records. A malformed block is
// reported and skipped; it never aborts the rest of the catalog.
func Parse(r io.Reader, opts Options, logger *slog.Logger) (*ParseResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []numberedLine
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, numberedLine{n: n, text: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	res := &ParseResult{}
	report := func(perr *ParseError) {
		logger.Warn("skipping malformed TLE entry",
			"line", perr.Line,
			"field", perr.Field,
			"name", perr.Name,
			"error", perr.Err,
		)
		res.Errors = append(res.Errors, perr)
	}

	for i := 0; i < len(lines); {
		var name string
		first := i
		if !isLine1(lines[i].text) {
			name = cleanName(lines[i].text)
			first = i + 1
		}

		if first+1 >= len(lines) {
			report(&ParseError{Line: lines[i].n, Field: "record", Name: name, Err: ErrTruncated})
			break
		}

		l1, l2 := lines[first], lines[first+1]
		if !isLine1(l1.text) || !isLine2(l2.text) {
			report(&ParseError{Line: l1.n, Field: "line_number", Name: name, Err: ErrLinePrefix})
			// Resync past the reported line 1 so an orphan is not reported
			// twice; otherwise one line forward.
			if isLine1(l1.text) {
				i = first + 1
			} else {
				i++
			}
			continue
		}

		set, perr := parseRecord(name, l1, l2, opts)
		i = first + 2
		if perr != nil {
			report(perr)
			continue
		}
		res.Sets = append(res.Sets, set)
	}

	return res, nil
}

// ParseRecord parses a single named two-line record, as supplied by a user.
func ParseRecord(name, line1, line2 string, class Classification) (ElementSet, error) {
	line1 = strings.TrimRight(line1, "\r\n ")
	line2 = strings.TrimRight(line2, "\r\n ")
	l1 := numberedLine{n: 1, text: strings.TrimLeft(line1, " ")}
	l2 := numberedLine{n: 2, text: strings.TrimLeft(line2, " ")}
	if !isLine1(l1.text) {
		return ElementSet{}, &ParseError{Line: 1, Field: "line_number", Name: name, Err: ErrLinePrefix}
	}
	if !isLine2(l2.text) {
		return ElementSet{}, &ParseError{Line: 2, Field: "line_number", Name: name, Err: ErrLinePrefix}
	}
	set, perr := parseRecord(cleanName(name), l1, l2, Options{Class: class})
	if perr != nil {
		return ElementSet{}, perr
	}
	return set, nil
}

func isLine1(s string) bool { return strings.HasPrefix(s, "1 ") }
func isLine2(s string) bool { return strings.HasPrefix(s, "2 ") }

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0 ") {
		s = strings.TrimSpace(s[2:])
	}
	return s
}

// parseRecord decodes the fixed columns of both element lines.
func parseRecord(name string, l1, l2 numberedLine, opts Options) (ElementSet, *ParseError) {
	fail := func(line numberedLine, field string, err error) (ElementSet, *ParseError) {
		return ElementSet{}, &ParseError{Line: line.n, Field: field, Name: name, Err: err}
	}

	a, b := l1.text, l2.text
	if len(a) < minLineLen {
		return fail(l1, "length", fmt.Errorf("%w: %d columns", ErrShortLine, len(a)))
	}
	if len(b) < minLineLen {
		return fail(l2, "length", fmt.Errorf("%w: %d columns", ErrShortLine, len(b)))
	}
	if opts.VerifyChecksum {
		if err := verifyChecksum(a); err != nil {
			return fail(l1, "checksum", err)
		}
		if err := verifyChecksum(b); err != nil {
			return fail(l2, "checksum", err)
		}
	}

	set := ElementSet{Class: opts.Class, Line1: a, Line2: b}
	var err error

	if set.CatalogNumber, err = parseCatalogNumber(a[2:7]); err != nil {
		return fail(l1, "catalog_number", err)
	}
	num2, err := parseCatalogNumber(b[2:7])
	if err != nil {
		return fail(l2, "catalog_number", err)
	}
	if num2 != set.CatalogNumber {
		return fail(l2, "catalog_number", fmt.Errorf("line 2 catalog number %d does not match line 1 %d", num2, set.CatalogNumber))
	}

	set.Security = a[7]
	if set.Security == ' ' {
		set.Security = 'U'
	}
	set.IntlDesignator = strings.TrimSpace(a[9:17])

	if set.Epoch, err = parseEpoch(strings.TrimSpace(a[18:32])); err != nil {
		return fail(l1, "epoch", err)
	}
	if set.MeanMotionDot, err = parseDecimal(a[33:43]); err != nil {
		return fail(l1, "mean_motion_dot", err)
	}
	if set.MeanMotionDDot, err = parseExponent(a[44:52]); err != nil {
		return fail(l1, "mean_motion_ddot", err)
	}
	if set.BStar, err = parseExponent(a[53:61]); err != nil {
		return fail(l1, "bstar", err)
	}
	if set.ElementNumber, err = parseOptionalInt(a[64:68]); err != nil {
		return fail(l1, "element_number", err)
	}

	if set.Inclination, err = parseDecimal(b[8:16]); err != nil {
		return fail(l2, "inclination", err)
	}
	if set.RAAN, err = parseDecimal(b[17:25]); err != nil {
		return fail(l2, "raan", err)
	}
	if set.Eccentricity, err = parseImpliedDecimal(b[26:33]); err != nil {
		return fail(l2, "eccentricity", err)
	}
	if set.ArgPerigee, err = parseDecimal(b[34:42]); err != nil {
		return fail(l2, "arg_perigee", err)
	}
	if set.MeanAnomaly, err = parseDecimal(b[43:51]); err != nil {
		return fail(l2, "mean_anomaly", err)
	}
	if set.MeanMotion, err = parseDecimal(b[52:63]); err != nil {
		return fail(l2, "mean_motion", err)
	}
	if set.RevNumber, err = parseOptionalInt(b[63:68]); err != nil {
		return fail(l2, "rev_number", err)
	}

	if err := set.Validate(); err != nil {
		field := "eccentricity"
		switch {
		case set.Inclination < 0 || set.Inclination > 180:
			field = "inclination"
		case set.MeanMotion <= 0:
			field = "mean_motion"
		}
		return fail(l2, field, err)
	}

	if name == "" {
		name = fmt.Sprintf("%05d", set.CatalogNumber)
	}
	set.Name = name
	if opts.DetectDebris && set.Class == ClassCatalog && IsDebrisName(name) {
		set.Class = ClassDebris
	}
	set.ID = ObjectID(set.CatalogNumber, set.Name, set.Class)

	return set, nil
}

// IsDebrisName reports whether a catalog name marks a fragment or spent stage.
func IsDebrisName(name string) bool {
	for _, tok := range strings.Fields(strings.ToUpper(name)) {
		switch tok {
		case "DEB", "DEBRIS", "R/B":
			return true
		}
	}
	return false
}

// alpha5 maps the leading letter of an Alpha-5 catalog number to its value / 10000.
const alpha5 = "ABCDEFGHJKLMNPQRSTUVWXYZ"

func parseCatalogNumber(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty catalog number", ErrNumber)
	}
	prefix := 0
	if c := s[0]; c >= 'A' && c <= 'Z' {
		idx := strings.IndexByte(alpha5, c)
		if idx < 0 {
			return 0, fmt.Errorf("%w: invalid alpha-5 prefix %q", ErrNumber, c)
		}
		prefix = (idx + 10) * 10000
		s = s[1:]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: catalog number %q", ErrNumber, s)
	}
	return prefix + n, nil
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(strings.TrimSpace(s[:2]))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: epoch year %q", ErrNumber, s[:2])
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(strings.TrimSpace(s[2:]), 64)
	if err != nil || dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("%w: epoch day %q", ErrNumber, s[2:])
	}

	// dayOfYear is 1-based: day 1.0 = Jan 1 00:00.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrNumber, s)
	}
	return v, nil
}

// parseImpliedDecimal reads digits with an assumed leading decimal point ("1466352" → 0.1466352).
func parseImpliedDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, ".+-eE") {
		return 0, fmt.Errorf("%w: %q", ErrNumber, s)
	}
	return parseDecimal("0." + s)
}

// parseExponent reads the compact "±NNNNN±E" notation, e.g. " 10270-3" → 0.10270e-3.
func parseExponent(s string) (float64, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("%w: %q", ErrNumber, s)
	}
	mant := strings.TrimSpace(s[:6])
	exp := strings.TrimSpace(s[6:])
	if mant == "" {
		return 0, nil
	}

	sign := 1.0
	switch mant[0] {
	case '-':
		sign = -1
		mant = mant[1:]
	case '+':
		mant = mant[1:]
	}
	mant = strings.TrimSpace(mant)
	if mant == "" {
		return 0, nil
	}
	m, err := strconv.ParseFloat("0."+mant, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: mantissa %q", ErrNumber, s)
	}

	e := 0
	if exp != "" {
		e, err = strconv.Atoi(strings.Replace(exp, " ", "", -1))
		if err != nil {
			return 0, fmt.Errorf("%w: exponent %q", ErrNumber, s)
		}
	}
	return sign * m * math.Pow10(e), nil
}

func parseOptionalInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNumber, s)
	}
	return n, nil
}
