package tle

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

const (
	issLine1      = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9009"
	issLine2      = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    01"
	vanguardLine1 = "1 00011U 59001A   22053.83197560  .00000847  00000-0  45179-3 0  9996"
	vanguardLine2 = "2 00011  32.8647 264.6509 1466352 126.0358 248.5175 11.85932318689790"
)

func TestParseThreeLineBlocks(t *testing.T) {
	input := "0 ISS (ZARYA)\n" + issLine1 + "\n" + issLine2 + "\n\n" + starlinkBlock

	res, err := Parse(strings.NewReader(input), Options{VerifyChecksum: true}, testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected parse errors: %v", res.Errors)
	}
	if len(res.Sets) != 2 {
		t.Fatalf("got %d sets, want 2", len(res.Sets))
	}

	iss := res.Sets[0]
	if iss.Name != "ISS (ZARYA)" {
		t.Errorf("Name = %q, want %q", iss.Name, "ISS (ZARYA)")
	}
	if iss.ID != "25544" {
		t.Errorf("ID = %q, want 25544", iss.ID)
	}
	if iss.IntlDesignator != "98067A" {
		t.Errorf("IntlDesignator = %q, want 98067A", iss.IntlDesignator)
	}
	wantEpoch := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	if !iss.Epoch.Equal(wantEpoch) {
		t.Errorf("Epoch = %v, want %v", iss.Epoch, wantEpoch)
	}
	if iss.Inclination != 51.64 || iss.RAAN != 100 || iss.MeanMotion != 15.5 {
		t.Errorf("angles = %v/%v/%v, want 51.64/100/15.5", iss.Inclination, iss.RAAN, iss.MeanMotion)
	}
	if math.Abs(iss.Eccentricity-0.0001) > 1e-12 {
		t.Errorf("Eccentricity = %v, want 0.0001", iss.Eccentricity)
	}
	if math.Abs(iss.BStar-1.027e-4) > 1e-12 {
		t.Errorf("BStar = %v, want 1.027e-4", iss.BStar)
	}
	if iss.Class != ClassCatalog {
		t.Errorf("Class = %v, want catalog", iss.Class)
	}
	if iss.Line1 != issLine1 || iss.Line2 != issLine2 {
		t.Error("source lines not retained")
	}
}

func TestParseRealRecord(t *testing.T) {
	res, err := Parse(strings.NewReader("VANGUARD 2\n"+vanguardLine1+"\n"+vanguardLine2+"\n"), Options{VerifyChecksum: true}, testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Sets) != 1 {
		t.Fatalf("got %d sets, want 1 (errors %v)", len(res.Sets), res.Errors)
	}
	s := res.Sets[0]
	if s.ID != "00011" || s.CatalogNumber != 11 {
		t.Errorf("ID = %q (%d), want 00011", s.ID, s.CatalogNumber)
	}
	if math.Abs(s.Eccentricity-0.1466352) > 1e-12 {
		t.Errorf("Eccentricity = %v, want 0.1466352", s.Eccentricity)
	}
	if s.RevNumber != 68979 {
		t.Errorf("RevNumber = %d, want 68979", s.RevNumber)
	}
	if s.Epoch.Year() != 2022 || s.Epoch.YearDay() != 53 {
		t.Errorf("Epoch = %v, want 2022 day 53", s.Epoch)
	}
}

func TestParseBareTwoLineRecord(t *testing.T) {
	res, err := Parse(strings.NewReader(issLine1+"\n"+issLine2+"\n"), Options{}, testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Sets) != 1 {
		t.Fatalf("got %d sets, want 1", len(res.Sets))
	}
	if res.Sets[0].Name != "25544" {
		t.Errorf("Name = %q, want catalog number fallback", res.Sets[0].Name)
	}
}

func TestParseSkipsMalformedBlocks(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		opts      Options
		wantSets  int
		wantErrs  int
		wantCause error
	}{
		{
			name:      "short line",
			input:     "BROKEN\n" + issLine1[:40] + "\n" + issLine2 + "\n" + starlinkBlock,
			wantSets:  1,
			wantErrs:  1,
			wantCause: ErrShortLine,
		},
		{
			name:      "bad checksum",
			input:     "BROKEN\n" + issLine1[:68] + "0\n" + issLine2 + "\n" + starlinkBlock,
			opts:      Options{VerifyChecksum: true},
			wantSets:  1,
			wantErrs:  1,
			wantCause: ErrChecksum,
		},
		{
			name:      "bad checksum ignored",
			input:     "OK\n" + issLine1[:68] + "0\n" + issLine2 + "\n" + starlinkBlock,
			wantSets:  2,
			wantErrs:  0,
			wantCause: nil,
		},
		{
			name:      "line prefix resync",
			input:     "GARBAGE\nX 1234\n" + starlinkBlock,
			wantSets:  1,
			wantErrs:  2,
			wantCause: ErrLinePrefix,
		},
		{
			name:      "missing line 2 reported once",
			input:     "0 ALPHA\n" + issLine1 + "\n0 VANGUARD 2\n" + vanguardLine1 + "\n" + vanguardLine2 + "\n",
			wantSets:  1,
			wantErrs:  1,
			wantCause: ErrLinePrefix,
		},
		{
			name:      "orphan bare line 1",
			input:     issLine1 + "\n" + starlinkBlock,
			wantSets:  1,
			wantErrs:  1,
			wantCause: ErrLinePrefix,
		},
		{
			name:      "truncated tail",
			input:     starlinkBlock + "ISS (ZARYA)\n" + issLine1 + "\n",
			wantSets:  1,
			wantErrs:  1,
			wantCause: ErrTruncated,
		},
		{
			name:      "non-numeric field",
			input:     "BROKEN\n" + issLine1 + "\n" + strings.Replace(issLine2, "51.6400", "5x.6400", 1) + "\n" + starlinkBlock,
			wantSets:  1,
			wantErrs:  1,
			wantCause: ErrNumber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(strings.NewReader(tt.input), tt.opts, testLogger)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(res.Sets) != tt.wantSets {
				t.Errorf("got %d sets, want %d", len(res.Sets), tt.wantSets)
			}
			if len(res.Errors) != tt.wantErrs {
				t.Fatalf("got %d errors, want %d: %v", len(res.Errors), tt.wantErrs, res.Errors)
			}
			if tt.wantCause != nil && !errors.Is(res.Errors[0], tt.wantCause) {
				t.Errorf("error = %v, want cause %v", res.Errors[0], tt.wantCause)
			}
		})
	}
}

func TestParseErrorCarriesLineAndField(t *testing.T) {
	input := starlinkBlock + "BROKEN\n" + issLine1 + "\n" + strings.Replace(issLine2, "51.6400", "5x.6400", 1) + "\n"
	res, err := Parse(strings.NewReader(input), Options{}, testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("got %d errors, want 1", len(res.Errors))
	}
	perr := res.Errors[0]
	if perr.Line != 6 {
		t.Errorf("Line = %d, want 6", perr.Line)
	}
	if perr.Field != "inclination" {
		t.Errorf("Field = %q, want inclination", perr.Field)
	}
	if perr.Name != "BROKEN" {
		t.Errorf("Name = %q, want BROKEN", perr.Name)
	}
}

func TestParseDetectsDebris(t *testing.T) {
	input := "COSMOS 2251 DEB\n" + issLine1 + "\n" + issLine2 + "\n"
	res, err := Parse(strings.NewReader(input), Options{DetectDebris: true}, testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Sets) != 1 {
		t.Fatalf("got %d sets, want 1", len(res.Sets))
	}
	if res.Sets[0].Class != ClassDebris {
		t.Errorf("Class = %v, want debris", res.Sets[0].Class)
	}
	if res.Sets[0].ID != "25544" {
		t.Errorf("ID = %q, want 25544", res.Sets[0].ID)
	}
}

func TestParseRecordUserObject(t *testing.T) {
	set, err := ParseRecord("  MYSAT ", issLine1, issLine2, ClassUserAdded)
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if set.ID != "user:MYSAT" {
		t.Errorf("ID = %q, want user:MYSAT", set.ID)
	}
	if set.Class != ClassUserAdded {
		t.Errorf("Class = %v, want user_added", set.Class)
	}
}

func TestParseRecordRejects(t *testing.T) {
	tests := []struct {
		name  string
		line1 string
		line2 string
		want  error
	}{
		{"swapped lines", issLine2, issLine1, ErrLinePrefix},
		{"inclination above 180", issLine1, strings.Replace(issLine2, " 51.6400", "181.0000", 1), ErrInvariant},
		{"zero mean motion", issLine1, strings.Replace(issLine2, "15.50000000", " 0.00000000", 1), ErrInvariant},
		{"catalog mismatch", issLine1, strings.Replace(issLine2, "25544", "25545", 1), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord("X", tt.line1, tt.line2, ClassUserAdded)
			if err == nil {
				t.Fatal("expected error")
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error %T is not *ParseError", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseEpoch(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"57001.00000000", time.Date(1957, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"56001.00000000", time.Date(2056, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"24100.50000000", time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)},
		{"00001.25000000", time.Date(2000, 1, 1, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseEpoch(tt.in)
		if err != nil {
			t.Errorf("parseEpoch(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseEpoch(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"24", "2x100.5", "24000.00000000", "24400.00000000"} {
		if _, err := parseEpoch(bad); err == nil {
			t.Errorf("parseEpoch(%q) succeeded, want error", bad)
		}
	}
}

func TestParseExponent(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{" 10270-3", 1.027e-4},
		{"-11606-4", -1.1606e-5},
		{" 00000-0", 0},
		{" 00000+0", 0},
		{"        ", 0},
		{" 45179-3", 4.5179e-4},
		{" 12345+1", 1.2345},
	}
	for _, tt := range tests {
		got, err := parseExponent(tt.in)
		if err != nil {
			t.Errorf("parseExponent(%q): %v", tt.in, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-15 {
			t.Errorf("parseExponent(%q) = %g, want %g", tt.in, got, tt.want)
		}
	}
	if _, err := parseExponent("abc"); err == nil {
		t.Error("parseExponent(abc) succeeded, want error")
	}
}

func TestParseCatalogNumberAlpha5(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"25544", 25544},
		{"00011", 11},
		{"A0000", 100000},
		{"E8493", 148493},
		{"Z9999", 339999},
	}
	for _, tt := range tests {
		got, err := parseCatalogNumber(tt.in)
		if err != nil {
			t.Errorf("parseCatalogNumber(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseCatalogNumber(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"I0001", "O0001", "", "12a45"} {
		if _, err := parseCatalogNumber(bad); err == nil {
			t.Errorf("parseCatalogNumber(%q) succeeded, want error", bad)
		}
	}
}

func TestIsDebrisName(t *testing.T) {
	tests := map[string]bool{
		"COSMOS 2251 DEB":   true,
		"FALCON 9 R/B":      true,
		"FENGYUN 1C DEBRIS": true,
		"DEBUT":             false,
		"ISS (ZARYA)":       false,
	}
	for name, want := range tests {
		if got := IsDebrisName(name); got != want {
			t.Errorf("IsDebrisName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestClassificationText(t *testing.T) {
	for _, c := range []Classification{ClassCatalog, ClassUserAdded, ClassDebris} {
		b, err := c.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", c, err)
		}
		var got Classification
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", b, err)
		}
		if got != c {
			t.Errorf("round trip %v -> %s -> %v", c, b, got)
		}
	}
	if _, err := Classification(9).MarshalText(); err == nil {
		t.Error("MarshalText(9) succeeded, want error")
	}
}

func TestRangeOf(t *testing.T) {
	if r := RangeOf(nil); !r.Min.IsZero() || !r.Max.IsZero() {
		t.Errorf("RangeOf(nil) = %+v, want zero", r)
	}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sets := []ElementSet{{Epoch: t0.Add(time.Hour)}, {Epoch: t0}, {Epoch: t0.Add(3 * time.Hour)}}
	r := RangeOf(sets)
	if !r.Min.Equal(t0) || !r.Max.Equal(t0.Add(3*time.Hour)) {
		t.Errorf("RangeOf = %+v", r)
	}
}

func TestObjectID(t *testing.T) {
	tests := []struct {
		num   int
		name  string
		class Classification
		want  string
	}{
		{11, "VANGUARD 2", ClassCatalog, "00011"},
		{25544, "ISS (ZARYA)", ClassDebris, "25544"},
		{99999, "", ClassCatalog, "99999"},
		{100000, "", ClassCatalog, "100000"},
		{0, "  MY SAT ", ClassUserAdded, "user:MY SAT"},
	}
	for _, tt := range tests {
		if got := ObjectID(tt.num, tt.name, tt.class); got != tt.want {
			t.Errorf("ObjectID(%d, %q, %v) = %q, want %q", tt.num, tt.name, tt.class, got, tt.want)
		}
	}
	// Alpha-5 identities do not sort numerically against five-digit ones.
	if a, b := ObjectID(100000, "", ClassCatalog), ObjectID(99999, "", ClassCatalog); a > b {
		t.Errorf("%q sorts after %q", a, b)
	}
}
