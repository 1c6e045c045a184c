package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"minyancal/internal/export"
	"minyancal/internal/ics"
	"minyancal/internal/model"
)

// ExportStrategy requests the structured (CSV) export of the calendar URL.
type ExportStrategy struct {
	Fetcher *Fetcher
}

func (ExportStrategy) Name() string { return "export" }

func (s ExportStrategy) Fetch(ctx context.Context, req *Request) ([]model.RawEntry, error) {
	if req.Org.CalendarURL == "" {
		return nil, ErrNotApplicable
	}
	u, err := export.BuildURL(req.Org.CalendarURL, req.Window.Start, req.Window.End)
	if err != nil {
		return nil, err
	}

	resp, err := s.Fetcher.Get(ctx, u)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %v", ErrNoExport, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if strings.Contains(resp.ContentType, "html") || looksLikeHTML(resp.Body) {
		return nil, ErrNoExport
	}

	rows, err := export.Parser{Location: req.Location, SourceURL: req.Org.CalendarURL}.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		if errors.Is(err, export.ErrNotTabular) {
			return nil, ErrNoExport
		}
		return nil, err
	}
	return inWindow(rows, req.Window), nil
}

// ICSStrategy reads an iCalendar feed: the organization's ICS URL, or the
// calendar URL when it serves text/calendar.
type ICSStrategy struct {
	Fetcher *Fetcher
}

func (ICSStrategy) Name() string { return "ics" }

func (s ICSStrategy) Fetch(ctx context.Context, req *Request) ([]model.RawEntry, error) {
	var (
		body   []byte
		source string
	)
	switch {
	case req.Org.ICSURL != "":
		resp, err := s.Fetcher.Get(ctx, req.Org.ICSURL)
		if err != nil {
			return nil, err
		}
		body, source = resp.Body, req.Org.ICSURL
	case req.Org.CalendarURL != "":
		resp, err := req.Page(ctx)
		if err != nil {
			return nil, err
		}
		if !isCalendar(resp) {
			return nil, ErrNotApplicable
		}
		body, source = resp.Body, req.Org.CalendarURL
	default:
		return nil, ErrNotApplicable
	}

	res, err := ics.Entries(body, ics.ExpandConfig{Window: req.Window, SourceURL: source})
	if errors.Is(err, ics.ErrEmptyBody) {
		return nil, nil
	}
	return res, err
}

func isCalendar(resp *Response) bool {
	if strings.Contains(resp.ContentType, "text/calendar") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(resp.Body), []byte("BEGIN:VCALENDAR"))
}

func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)
	return strings.HasPrefix(ct, "text/html")
}

func inWindow(entries []model.RawEntry, w model.Window) []model.RawEntry {
	out := entries[:0]
	for _, e := range entries {
		if w.Contains(e.Date) {
			out = append(out, e)
		}
	}
	return out
}
