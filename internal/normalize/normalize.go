// Package normalize canonicalizes free-text titles and clock times scraped
// from calendar feeds and derives the fingerprint used to recognize the
// same entry across ingestion runs.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"minyancal/internal/model"
)

var folder = cases.Fold()

// Title trims, collapses internal whitespace, strips punctuation except
// hyphen, and lowercases. Title(Title(x)) == Title(x).
func Title(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return Spaces(b.String())
}

// Spaces trims and collapses runs of whitespace to one space.
func Spaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var timeLayouts = []string{
	"3:04 PM",
	"3:04PM",
	"03:04 PM",
	"3:04:05 PM",
	"3:04:05PM",
	"15:04",
	"15:04:05",
	"3 PM",
	"3PM",
}

// loose matches things like "7.30pm", "7:30 p.m.", "at 7:30".
var loose = regexp.MustCompile(`(?i)\b(\d{1,2})(?:[:.](\d{2}))?(?::\d{2})?\s*([ap])\.?\s*m\.?(?:\W|$)|\b(\d{1,2})[:.](\d{2})\b`)

// Time parses a clock time in any of the accepted layouts, falling back to a
// looser pattern search. ok is false for unparsable input.
func Time(s string) (model.Clock, bool) {
	s = Spaces(s)
	if s == "" {
		return model.Clock{}, false
	}
	upper := strings.ToUpper(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, upper); err == nil {
			return model.ClockOf(t), true
		}
	}
	return looseTime(s)
}

func looseTime(s string) (model.Clock, bool) {
	m := loose.FindStringSubmatch(s)
	if m == nil {
		return model.Clock{}, false
	}

	var hourText, minText, meridiem string
	if m[1] != "" {
		hourText, minText, meridiem = m[1], m[2], strings.ToLower(m[3])
	} else {
		hourText, minText = m[4], m[5]
	}

	hour, err := strconv.Atoi(hourText)
	if err != nil {
		return model.Clock{}, false
	}
	minute := 0
	if minText != "" {
		if minute, err = strconv.Atoi(minText); err != nil {
			return model.Clock{}, false
		}
	}

	switch meridiem {
	case "a":
		if hour < 1 || hour > 12 {
			return model.Clock{}, false
		}
		if hour == 12 {
			hour = 0
		}
	case "p":
		if hour < 1 || hour > 12 {
			return model.Clock{}, false
		}
		if hour != 12 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return model.Clock{}, false
	}
	return model.Clock{Hour: hour, Minute: minute}, true
}

// TimeKey is the canonical "15:04" text for s, or "" when unparsable.
func TimeKey(s string) string {
	c, ok := Time(s)
	if !ok {
		return ""
	}
	return c.String()
}

// Fingerprint hashes orgID|dateText|Title(title)|timeText into a 64-char
// hex digest.
func Fingerprint(orgID, dateText, title, timeText string) string {
	key := strings.Join([]string{
		strings.TrimSpace(orgID),
		strings.TrimSpace(dateText),
		Title(title),
		strings.ToLower(Spaces(timeText)),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
