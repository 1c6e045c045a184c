package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	appLog "minyancal/internal/log"
	"minyancal/internal/model"
)

// Default browser parameters.
const (
	DefaultPageLoadTimeout = 45 * time.Second
	DefaultRenderWait      = 3 * time.Second
)

// BrowserOptions configures the rendered-page strategy.
type BrowserOptions struct {
	Enabled bool
	// ExecPath overrides Chromium discovery.
	ExecPath string
	// PageLoadTimeout bounds the whole browser session.
	PageLoadTimeout time.Duration
	// RenderWait is the pause after load for client-side rendering.
	RenderWait time.Duration
	UserAgent  string
}

// RenderedStrategy loads the calendar page in headless Chromium via
// chromedp and scans the rendered text. The browser is closed on every path.
type RenderedStrategy struct {
	opts BrowserOptions
}

func NewRenderedStrategy(opts BrowserOptions) *RenderedStrategy {
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = DefaultPageLoadTimeout
	}
	if opts.RenderWait < 0 {
		opts.RenderWait = DefaultRenderWait
	}
	return &RenderedStrategy{opts: opts}
}

func (*RenderedStrategy) Name() string { return "rendered" }

func (s *RenderedStrategy) Fetch(ctx context.Context, req *Request) ([]model.RawEntry, error) {
	if !s.opts.Enabled || req.Org.CalendarURL == "" {
		return nil, ErrNotApplicable
	}
	text, err := s.render(ctx, req.Org.CalendarURL)
	if err != nil {
		return nil, err
	}
	return ScanText(text, req.Window, req.Org.CalendarURL), nil
}

func (s *RenderedStrategy) render(parent context.Context, url string) (string, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Headless,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if s.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(s.opts.ExecPath))
	}
	if s.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(s.opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, s.opts.PageLoadTimeout)
	defer timeoutCancel()

	var text string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.opts.RenderWait),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	}

	started := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("rendered: chromedp run failed: %w", err)
	}
	appLog.Debug("rendered page", "url", redactURL(url), "chars", len(text), "elapsed", time.Since(started))
	return text, nil
}
