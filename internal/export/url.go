package export

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"minyancal/internal/model"
)

// ErrUnsupportedScheme is returned for base URLs that are not http(s).
var ErrUnsupportedScheme = errors.New("export: url must be http or https")

// BuildURL adds the export query parameters (date bounds, csv format and
// approved status) to base. Parameters already present in base win.
func BuildURL(base string, start, end time.Time) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse calendar url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, redact(u))
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrUnsupportedScheme, redact(u))
	}

	q := u.Query()
	params := []struct{ key, value string }{
		{"start", start.Format(model.DateLayout)},
		{"end", end.Format(model.DateLayout)},
		{"format", "csv"},
		{"status", "approved"},
	}
	for _, p := range params {
		if !q.Has(p.key) {
			q.Set(p.key, p.value)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}
