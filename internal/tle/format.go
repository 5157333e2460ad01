package tle

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Checksum computes the modulo-10 checksum over the first 68 columns of an
// element line: digits count their value, minus signs count one.
func Checksum(line string) int {
	sum := 0
	for i := 0; i < len(line) && i < 68; i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

func verifyChecksum(line string) error {
	if len(line) < 69 {
		return fmt.Errorf("%w: checksum column missing", ErrChecksum)
	}
	want := Checksum(line)
	got := int(line[68] - '0')
	if got != want {
		return fmt.Errorf("%w: got %c, computed %d", ErrChecksum, line[68], want)
	}
	return nil
}

// Lines returns the two element lines for the set: the source text when the
// set was parsed, otherwise a fresh encoding.
func (s ElementSet) Lines() (string, string) {
	if s.Line1 != "" && s.Line2 != "" {
		return s.Line1, s.Line2
	}
	return Encode(s)
}

// Encode writes the set as two standard 69-column element lines with valid
// checksums. Catalog numbers above 99999 use the Alpha-5 letter prefix.
func Encode(s ElementSet) (string, string) {
	num := formatCatalogNumber(s.CatalogNumber)
	sec := s.Security
	if sec == 0 {
		sec = 'U'
	}

	epoch := s.Epoch.UTC()
	yearStart := time.Date(epoch.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	day := 1 + epoch.Sub(yearStart).Hours()/24

	var b strings.Builder
	b.WriteString("1 ")
	b.WriteString(num)
	b.WriteByte(sec)
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%-8.8s ", s.IntlDesignator)
	fmt.Fprintf(&b, "%02d%012.8f ", epoch.Year()%100, day)
	b.WriteString(formatDecimalNoLead(s.MeanMotionDot))
	b.WriteByte(' ')
	b.WriteString(formatExponent(s.MeanMotionDDot))
	b.WriteByte(' ')
	b.WriteString(formatExponent(s.BStar))
	fmt.Fprintf(&b, " 0 %4d", s.ElementNumber%10000)
	line1 := b.String()
	line1 += fmt.Sprintf("%d", Checksum(line1))

	b.Reset()
	b.WriteString("2 ")
	b.WriteString(num)
	b.WriteByte(' ')
	fmt.Fprintf(&b, "%8.4f %8.4f ", s.Inclination, normalizeDeg(s.RAAN))
	fmt.Fprintf(&b, "%07d ", int(math.Round(s.Eccentricity*1e7)))
	fmt.Fprintf(&b, "%8.4f %8.4f ", normalizeDeg(s.ArgPerigee), normalizeDeg(s.MeanAnomaly))
	fmt.Fprintf(&b, "%11.8f%5d", s.MeanMotion, s.RevNumber%100000)
	line2 := b.String()
	line2 += fmt.Sprintf("%d", Checksum(line2))

	return line1, line2
}

func formatCatalogNumber(n int) string {
	if n > 99999 && n < 340000 {
		return fmt.Sprintf("%c%04d", alpha5[n/10000-10], n%10000)
	}
	return fmt.Sprintf("%05d", n%100000)
}

func normalizeDeg(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// formatDecimalNoLead renders a 10-column value like " .00016717" or "-.00001234".
func formatDecimalNoLead(v float64) string {
	sign := " "
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := fmt.Sprintf("%.8f", math.Min(v, 0.99999999))
	return sign + strings.TrimPrefix(s, "0")
}

// formatExponent renders the compact 8-column "±NNNNN±E" notation.
func formatExponent(v float64) string {
	if v == 0 {
		return " 00000-0"
	}
	sign := " "
	if v < 0 {
		sign = "-"
		v = -v
	}
	exp := int(math.Floor(math.Log10(v))) + 1
	mant := int(math.Round(v / math.Pow10(exp) * 1e5))
	if mant >= 100000 {
		mant /= 10
		exp++
	}
	expSign := "+"
	if exp < 0 {
		expSign = "-"
		exp = -exp
	}
	if exp > 9 {
		exp = 9
	}
	return fmt.Sprintf("%s%05d%s%d", sign, mant, expSign, exp)
}
