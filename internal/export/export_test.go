package export

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ReorderedAliases(t *testing.T) {
	in := "Location,Name,Start,Type\n" +
		"Main Shul,Mincha,2026-10-18 13:45,Service\n"

	rows, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, "Mincha", r.Title)
	assert.Equal(t, "2026-10-18", r.Date.Format("2006-01-02"))
	assert.Equal(t, "1:45 PM", r.TimeText)
	assert.Equal(t, "Main Shul", r.Location)
	assert.Equal(t, "Service", r.Type)
	assert.Equal(t, "Main Shul | Mincha | 2026-10-18 13:45 | Service", r.RawText)
}

func TestParse_SemicolonBOMAndQuotes(t *testing.T) {
	in := "\ufeffTitle;Date;Time;Description\n" +
		"\"Mincha; Main\";10/18/2026;1:45 PM;\"Details; more\"\n"

	rows, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Mincha; Main", rows[0].Title)
	assert.Equal(t, "Details; more", rows[0].Description)
	assert.Equal(t, "1:45 PM", rows[0].TimeText)
	assert.Equal(t, time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC), rows[0].Date)
}

func TestParse_TabDelimited(t *testing.T) {
	in := "Subject\tStart Date\tStart Time\tEnd Time\n" +
		"Shacharis\t2026-10-19\t7:00 AM\t2026-10-19 07:45\n"

	rows, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Shacharis", rows[0].Title)
	assert.Equal(t, "7:00 AM", rows[0].TimeText)
	assert.Equal(t, "7:45 AM", rows[0].EndText)
}

func TestParse_DatetimeInTimeColumn(t *testing.T) {
	in := "Date,Time,Title\n2026-10-18,2026-10-18T19:05:00,Maariv\n"

	rows, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "7:05 PM", rows[0].TimeText)
}

func TestParse_SkipsEmptyAndUndatedRows(t *testing.T) {
	in := "Date,Time,Title\n" +
		",,\n" +
		"not a date,7:00 PM,Maariv\n" +
		"2026-10-18,7:00 PM,Maariv\n" +
		"2026-10-19,,\n"

	rows, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Maariv", rows[0].Title)
	assert.Equal(t, "", rows[1].Title)
	assert.Equal(t, 19, rows[1].Date.Day())
}

func TestParse_ShortRows(t *testing.T) {
	in := "Date,Title,Time,Description\n2026-10-18,Mincha\n"

	rows, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0].TimeText)
	assert.Equal(t, "", rows[0].Description)
}

func TestParse_EmptyInput(t *testing.T) {
	for _, in := range []string{"", "   \n\n", "\ufeff"} {
		rows, err := Parse(strings.NewReader(in))
		assert.NoError(t, err)
		assert.Empty(t, rows)
	}
}

func TestParse_NotTabular(t *testing.T) {
	_, err := Parse(strings.NewReader("<html><body>Calendar</body></html>"))
	assert.True(t, errors.Is(err, ErrNotTabular))
}

func TestParser_Location(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	rows, err := Parser{Location: ny, SourceURL: "https://example.org/cal"}.
		Parse(strings.NewReader("date,title\n2026-10-18,Mincha\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, time.Date(2026, time.October, 18, 0, 0, 0, 0, ny), rows[0].Date)
	assert.Equal(t, "https://example.org/cal", rows[0].SourceURL)
}

func TestBuildURL(t *testing.T) {
	start := time.Date(2026, time.October, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.December, 11, 0, 0, 0, 0, time.UTC)

	got, err := BuildURL("https://shul.example.org/calendar?view=list", start, end)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "list", q.Get("view"))
	assert.Equal(t, "2026-10-02", q.Get("start"))
	assert.Equal(t, "2026-12-11", q.Get("end"))
	assert.Equal(t, "csv", q.Get("format"))
	assert.Equal(t, "approved", q.Get("status"))

	again, err := BuildURL("https://shul.example.org/calendar?view=list", start, end)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestParse_KeepsReadingPastManyBadRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("Date,Time,Title\n")
	for i := 0; i < 750; i++ {
		b.WriteString("bad\"date,7:00 PM,Ma\"ariv,stray,extra\n")
	}
	b.WriteString("2026-10-18,7:00 PM,Maariv\n")
	b.WriteString("2026-10-19,1:45 PM,Mincha\n")

	rows, err := Parse(strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Maariv", rows[0].Title)
	assert.Equal(t, "Mincha", rows[1].Title)
}

func TestBuildURL_KeepsExistingParams(t *testing.T) {
	start := time.Date(2026, time.October, 2, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 70)

	got, err := BuildURL("http://example.org/c?format=tsv&status=all", start, end)
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, []string{"tsv"}, u.Query()["format"])
	assert.Equal(t, []string{"all"}, u.Query()["status"])
	assert.Equal(t, "2026-10-02", u.Query().Get("start"))
}

func TestBuildURL_RejectsScheme(t *testing.T) {
	start := time.Now()
	for _, base := range []string{"ftp://example.org/cal", "file:///etc/passwd", "example.org/cal", "https://"} {
		_, err := BuildURL(base, start, start)
		assert.ErrorIs(t, err, ErrUnsupportedScheme, base)
	}
}
