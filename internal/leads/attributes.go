package leads

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Login types derived from the social identities attached to a lead.
const (
	LoginFacebook = "Facebook"
	LoginGoogle   = "Google"
	LoginMulti    = "Multi"
	LoginOther    = "Other"
)

// LoginType classifies how a lead signed in: one social provider, both, or plain email.
func LoginType(hasFacebook, hasGoogle bool) string {
	switch {
	case hasFacebook && hasGoogle:
		return LoginMulti
	case hasFacebook:
		return LoginFacebook
	case hasGoogle:
		return LoginGoogle
	default:
		return LoginOther
	}
}

// UnknownBand is reported for ages that cannot be banded.
const UnknownBand = "unknown"

// AgeBands lists the bands in ascending order.
var AgeBands = []string{"18-20", "20-25", "25-30", "30-35", "35-40", "40-45", "45-50", "50-55", "55-60", "60-65", "65+"}

// AgeBand buckets an age in years. Bands are half-open: 20 falls in "20-25".
func AgeBand(age int) string {
	switch {
	case age < 18:
		return UnknownBand
	case age < 20:
		return AgeBands[0]
	case age >= 65:
		return AgeBands[len(AgeBands)-1]
	default:
		return AgeBands[1+(age-20)/5]
	}
}

// SubscriptionYear returns the calendar year of a subscription, 0 when unknown.
func SubscriptionYear(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	return t.Year()
}

// BonusAmount renders a bonus cell as a segment value: blank or NaN is "0" and numbers drop
// trailing zeros, so "5", "5.0" and "5,00" all give "5". Other text is kept as written.
func BonusAmount(raw string) string {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "", "nan", "null", "none":
		return "0"
	}
	n, ok := parseNumber(strings.Replace(v, ",", ".", 1))
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return v
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006", "01-02-06", "1/2/06"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseNumber(s string) (float64, bool) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ',', '$', '€', ' ':
			return -1
		}
		return r
	}, s)
	if clean == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(clean, 64)
	return f, err == nil
}
