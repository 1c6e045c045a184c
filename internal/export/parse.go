// Package export reads the tabular (CSV-like) export variant of an
// organization's public calendar and builds the URL that requests it.
package export

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	appLog "minyancal/internal/log"
	"minyancal/internal/model"
	"minyancal/internal/normalize"
)

// ErrNotTabular is returned when the header row names none of the date,
// time or title columns.
var ErrNotTabular = errors.New("export: no recognizable columns")

// maxLoggedRowErrors bounds per-row warnings; later malformed rows are
// still skipped and counted.
const maxLoggedRowErrors = 20

type field int

const (
	fieldDate field = iota
	fieldTime
	fieldTitle
	fieldDescription
	fieldEnd
	fieldLocation
	fieldType
	fieldCount
)

// aliases lists accepted header names per field, in preference order.
var aliases = [fieldCount][]string{
	fieldDate:        {"date", "start date", "event date", "day", "start", "start datetime"},
	fieldTime:        {"time", "start time", "starts", "begin", "start"},
	fieldTitle:       {"title", "name", "event", "event name", "summary", "subject"},
	fieldDescription: {"description", "details", "notes", "desc"},
	fieldEnd:         {"end", "end time", "ends", "end date", "end datetime"},
	fieldLocation:    {"location", "room", "place", "venue", "where"},
	fieldType:        {"type", "category", "categories", "event type"},
}

var dateLayouts = []string{
	model.DateLayout,
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"Mon, Jan 2, 2006",
	"Monday, January 2, 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"20060102",
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04 PM",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"1/2/2006 3:04 PM",
	"1/2/2006 3:04:05 PM",
	"01/02/2006 03:04 PM",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 3:04 PM",
}

// Parser converts export text into raw entries. Dates without an explicit
// offset are read in Location.
type Parser struct {
	Location  *time.Location
	SourceURL string
}

// Parse reads r with a UTC parser.
func Parse(r io.Reader) ([]model.RawEntry, error) {
	return Parser{Location: time.UTC}.Parse(r)
}

// Parse reads a header row followed by data rows. Rows missing all of date,
// time and title are skipped; malformed records are logged and skipped.
func (p Parser) Parse(r io.Reader) ([]model.RawEntry, error) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = detectDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = cr.Comma != '\t'

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read export header: %w", err)
	}
	cols := resolveColumns(header)
	if cols[fieldDate] < 0 && cols[fieldTime] < 0 && cols[fieldTitle] < 0 {
		return nil, ErrNotTabular
	}

	var (
		out    []model.RawEntry
		errs   int
		skips  int
		record []string
	)
	for {
		record, err = cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return out, fmt.Errorf("read export: %w", err)
			}
			errs++
			if errs <= maxLoggedRowErrors {
				appLog.Warn("export: skipping malformed row", "line", pe.Line, "err", pe.Err)
			}
			continue
		}

		entry, ok := p.row(cols, record, loc)
		if !ok {
			skips++
			continue
		}
		out = append(out, entry)
	}

	appLog.Debug("export: parsed", "rows", len(out), "skipped", skips, "malformed", errs, "delimiter", string(cr.Comma))
	return out, nil
}

func (p Parser) row(cols [fieldCount]int, record []string, loc *time.Location) (model.RawEntry, bool) {
	get := func(f field) string {
		i := cols[f]
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	dateText, timeText, title := get(fieldDate), get(fieldTime), get(fieldTitle)
	if cols[fieldTime] == cols[fieldDate] {
		// A shared "start" column holds a datetime, not a bare time.
		timeText = ""
	}
	if dateText == "" && timeText == "" && title == "" {
		return model.RawEntry{}, false
	}

	date, clock, ok := parseDate(dateText, loc)
	if !ok {
		appLog.Debug("export: dropping row with unparsable date", "date", dateText, "title", title)
		return model.RawEntry{}, false
	}
	if timeText == "" && clock != nil {
		timeText = clock.Display()
	} else {
		timeText = clockText(timeText, loc)
	}
	endText := clockText(get(fieldEnd), loc)

	var raw []string
	for _, v := range record {
		if v = strings.TrimSpace(v); v != "" {
			raw = append(raw, v)
		}
	}

	return model.RawEntry{
		Date:        date,
		TimeText:    timeText,
		EndText:     endText,
		Title:       title,
		Type:        get(fieldType),
		Location:    get(fieldLocation),
		Description: get(fieldDescription),
		RawText:     strings.Join(raw, " | "),
		SourceURL:   p.SourceURL,
	}, true
}

// parseDate tries the date layouts, then the datetime layouts. The clock is
// set only for datetimes.
func parseDate(s string, loc *time.Location) (time.Time, *model.Clock, bool) {
	s = normalize.Spaces(s)
	if s == "" {
		return time.Time{}, nil, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil, true
		}
	}
	for _, layout := range dateTimeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		t = t.In(loc)
		c := model.ClockOf(t)
		return model.Midnight(t), &c, true
	}
	return time.Time{}, nil, false
}

// clockText reduces a datetime value to its display clock; other text is
// returned unchanged.
func clockText(s string, loc *time.Location) string {
	if _, c, ok := parseDate(s, loc); ok && c != nil {
		return c.Display()
	}
	return s
}

func headerKey(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'`))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return normalize.Spaces(s)
}

func resolveColumns(header []string) [fieldCount]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := headerKey(h)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	var cols [fieldCount]int
	for f := field(0); f < fieldCount; f++ {
		cols[f] = -1
		for _, alias := range aliases[f] {
			if i, ok := index[alias]; ok {
				cols[f] = i
				break
			}
		}
	}
	return cols
}

// detectDelimiter picks the most frequent of comma, tab and semicolon in the
// first line, ignoring quoted text.
func detectDelimiter(data []byte) rune {
	line, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	counts := map[rune]int{}
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == ',' || r == '\t' || r == ';':
			counts[r]++
		}
	}
	best := ','
	for _, r := range []rune{'\t', ';'} {
		if counts[r] > counts[best] {
			best = r
		}
	}
	return best
}
