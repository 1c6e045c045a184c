package ingest

import (
	"context"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"minyancal/internal/model"
	"minyancal/internal/normalize"
)

// StaticHTMLStrategy extracts the visible text of the calendar page and
// scans it line by line for dated, timed entries.
type StaticHTMLStrategy struct {
	policy *bluemonday.Policy
}

func NewStaticHTMLStrategy() *StaticHTMLStrategy {
	return &StaticHTMLStrategy{policy: bluemonday.StrictPolicy()}
}

func (*StaticHTMLStrategy) Name() string { return "static-html" }

func (s *StaticHTMLStrategy) Fetch(ctx context.Context, req *Request) ([]model.RawEntry, error) {
	resp, err := req.Page(ctx)
	if err != nil {
		return nil, err
	}
	if isCalendar(resp) {
		return nil, ErrNotApplicable
	}
	text := s.Text(string(resp.Body))
	return ScanText(text, req.Window, req.Org.CalendarURL), nil
}

var blockEnd = regexp.MustCompile(`(?i)(<br\s*/?>|</(p|div|li|tr|td|th|h[1-6]|dt|dd|section|article|header|footer|table)\s*>)`)

// Text strips markup and keeps block boundaries as newlines.
func (s *StaticHTMLStrategy) Text(markup string) string {
	markup = blockEnd.ReplaceAllString(markup, "$1\n")
	return html.UnescapeString(s.policy.Sanitize(markup))
}

var (
	isoDate     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDate   = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2}|\d{4}))?\b`)
	monthDate   = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4}))?`)
	weekdayWord = regexp.MustCompile(`(?i)\b(sun|mon|tue|tues|wed|thu|thur|thurs|fri|sat)(day|nesday|urday|sday)?\b,?`)
	clockText   = regexp.MustCompile(`(?i)\b\d{1,2}(?:[:.]\d{2})?\s*[ap]\.?\s*m\b\.?|\b\d{1,2}:\d{2}\b`)
	edgeJunk    = " \t-–—|:,@•·"
)

// months is keyed by the first three letters of the month name.
var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ScanText finds entries in free text. A line holding only a date sets the
// date for the lines below it; a line with a clock time and some other text
// becomes an entry on the current date. Entries outside window are dropped.
func ScanText(text string, window model.Window, sourceURL string) []model.RawEntry {
	loc := window.Start.Location()
	var (
		current time.Time
		out     []model.RawEntry
		seen    = map[string]bool{}
	)

	for _, line := range strings.Split(text, "\n") {
		line = normalize.Spaces(line)
		if line == "" {
			continue
		}

		rest := line
		if d, at, ok := findDate(rest, window); ok {
			current = d
			rest = rest[:at[0]] + " " + rest[at[1]:]
			rest = weekdayWord.ReplaceAllString(rest, " ")
		}

		span := clockText.FindStringIndex(rest)
		if span == nil || current.IsZero() {
			continue
		}
		timeText := strings.TrimSpace(rest[span[0]:span[1]])
		if _, ok := normalize.Time(timeText); !ok {
			continue
		}
		title := strings.Trim(normalize.Spaces(rest[:span[0]]+" "+rest[span[1]:]), edgeJunk)
		if title == "" || !window.Contains(current) {
			continue
		}

		date := time.Date(current.Year(), current.Month(), current.Day(), 0, 0, 0, 0, loc)
		key := date.Format(model.DateLayout) + "|" + timeText + "|" + title
		if seen[key] {
			continue
		}
		seen[key] = true

		out = append(out, model.RawEntry{
			Date:      date,
			TimeText:  timeText,
			Title:     title,
			RawText:   line,
			SourceURL: sourceURL,
		})
	}
	return out
}

// findDate returns the first date in s and its byte span. Dates without a
// year take the year that places them inside window when one does.
func findDate(s string, window model.Window) (time.Time, []int, bool) {
	loc := window.Start.Location()

	if m := isoDate.FindStringSubmatchIndex(s); m != nil {
		if t, err := time.ParseInLocation(model.DateLayout, s[m[0]:m[1]], loc); err == nil {
			return t, m[:2], true
		}
	}
	if m := monthDate.FindStringSubmatchIndex(s); m != nil {
		month := months[strings.ToLower(s[m[2]:m[3]])[:3]]
		day, _ := strconv.Atoi(s[m[4]:m[5]])
		year := 0
		if m[6] >= 0 {
			year, _ = strconv.Atoi(s[m[6]:m[7]])
		}
		if t, ok := makeDate(year, month, day, window); ok {
			return t, m[:2], true
		}
	}
	if m := slashDate.FindStringSubmatchIndex(s); m != nil {
		month, _ := strconv.Atoi(s[m[2]:m[3]])
		day, _ := strconv.Atoi(s[m[4]:m[5]])
		year := 0
		if m[6] >= 0 {
			year, _ = strconv.Atoi(s[m[6]:m[7]])
			if year < 100 {
				year += 2000
			}
		}
		if t, ok := makeDate(year, time.Month(month), day, window); ok {
			return t, m[:2], true
		}
	}
	return time.Time{}, nil, false
}

func makeDate(year int, month time.Month, day int, window model.Window) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	loc := window.Start.Location()
	build := func(y int) (time.Time, bool) {
		t := time.Date(y, month, day, 0, 0, 0, 0, loc)
		// time.Date normalizes Feb 30 into March; reject that.
		return t, t.Day() == day
	}
	if year != 0 {
		return build(year)
	}
	for _, y := range []int{window.Start.Year(), window.End.Year()} {
		if t, ok := build(y); ok && window.Contains(t) {
			return t, true
		}
	}
	return build(window.Start.Year())
}
