package render

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// masks the telltale automation flag before any page script runs
const maskWebdriverScript = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

type BrowserOptions struct {
	Headless  bool
	UserAgent string
	// ParagraphSelector locates content paragraphs when polling,
	// defaults to "#TextContent p".
	ParagraphSelector string
}

// BrowserSession implements Session on a headless Chrome instance via
// chromedp.
type BrowserSession struct {
	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
	selector    string
}

func NewBrowserSession(ctx context.Context, opts BrowserOptions) (*BrowserSession, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.ParagraphSelector == "" {
		opts.ParagraphSelector = "#TextContent p"
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(opts.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx)

	s := &BrowserSession{
		ctx:         browserCtx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
		selector:    opts.ParagraphSelector,
	}

	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(maskWebdriverScript).Do(ctx)
		return err
	}))
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// run executes chromedp actions on the session context while honoring
// the caller's deadline.
func (s *BrowserSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := s.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (s *BrowserSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *BrowserSession) WaitReady(ctx context.Context) error {
	err := s.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
	if err != nil && (ctx.Err() != nil || strings.Contains(err.Error(), "context deadline exceeded")) {
		return ErrTimeout
	}
	return err
}

func (s *BrowserSession) State(ctx context.Context) (PageState, error) {
	var result struct {
		Count int    `json:"count"`
		First string `json:"first"`
	}
	script := `(() => {
		const ps = document.querySelectorAll(` + "`" + s.selector + "`" + `);
		return {
			count: ps.length,
			first: ps.length > 0 ? ps[0].textContent.trim() : "",
		};
	})()`
	err := s.run(ctx, chromedp.Evaluate(script, &result))
	if err != nil {
		return PageState{}, err
	}
	return PageState{
		ParagraphCount: result.Count,
		FirstParagraph: result.First,
	}, nil
}

func (s *BrowserSession) HasReorderScript(ctx context.Context) (bool, error) {
	var found bool
	script := `(() => {
		const scripts = document.querySelectorAll('script');
		for (const sc of scripts) {
			if (sc.textContent && sc.textContent.includes('mark("mid")')) {
				return true;
			}
		}
		return false;
	})()`
	err := s.run(ctx, chromedp.Evaluate(script, &found))
	return found, err
}

func (s *BrowserSession) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *BrowserSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancelCtx()
	s.cancelAlloc()
	return err
}
