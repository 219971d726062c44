package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"novelarc/lib/chrono"
	"novelarc/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
)

// DefaultIdentityPool is a set of common browser identities rotated
// across attempts so consecutive requests don't present as one session.
var DefaultIdentityPool = []string{
	// Chrome Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	// Chrome macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	// Edge
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
	// Firefox
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	// Safari macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
}

// Page is a fetched and fully decoded document.
type Page struct {
	Body     []byte
	Header   http.Header
	FinalURL string
}

type ClientOptions struct {
	BaseURL string
	// Gate is the process-wide politeness gate. Required.
	Gate *Gate
	// MaxRetries bounds the total number of attempts per Fetch call.
	MaxRetries int
	// BaseDelay is the exponential backoff base between attempts.
	BaseDelay time.Duration
	Timeout   time.Duration
	// IdentityPool overrides DefaultIdentityPool.
	IdentityPool []string
	Clock        chrono.API
}

// Client issues rate-limited, retrying HTTP requests. All network access
// outside of the rendering session goes through here.
type Client struct {
	http       *resty.Client
	base       *url.URL
	gate       *Gate
	maxRetries int
	baseDelay  time.Duration
	identities []string
	clock      chrono.API
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Gate == nil {
		return nil, fmt.Errorf("fetch client requires a shared gate")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second * 30
	}
	if len(opts.IdentityPool) == 0 {
		opts.IdentityPool = DefaultIdentityPool
	}
	if opts.Clock == nil {
		opts.Clock = chrono.NewStandardImpl()
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetTimeout(opts.Timeout)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeaders(map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		"Accept-Encoding": "gzip, deflate",
	})

	telemetry.InstrumentResty(client, "novelarc.fetch")

	return &Client{
		http:       client,
		base:       base,
		gate:       opts.Gate,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		identities: opts.IdentityPool,
		clock:      opts.Clock,
	}, nil
}

// BaseURL reports the absolute base addresses are resolved against.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Resolve turns a base-relative address into an absolute one.
func (c *Client) Resolve(address string) (string, error) {
	link, err := c.base.Parse(address)
	if err != nil {
		return "", err
	}
	return link.String(), nil
}

// Fetch downloads one page, waiting on the shared gate before every
// attempt and retrying transient failures with exponential backoff. A 429
// response carrying Retry-After sleeps exactly that long instead.
func (c *Client) Fetch(ctx context.Context, address string) (Page, error) {
	return c.FetchWithHeaders(ctx, address, nil)
}

func (c *Client) FetchWithHeaders(ctx context.Context, address string, headers map[string]string) (Page, error) {
	link, err := c.Resolve(address)
	if err != nil {
		return Page{}, err
	}

	var lastErr error
	// delay < 0 means "use the backoff formula", anything else is an
	// exact server-supplied wait
	delay := time.Duration(-1)
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			if wait < 0 {
				wait = c.backoff(attempt)
			}
			if err := c.clock.Sleep(ctx, wait); err != nil {
				return Page{}, err
			}
		}

		page, outcome, err := c.attempt(ctx, link, headers)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		if !outcome.retryable {
			return Page{}, err
		}
		lastErr = err
		delay = outcome.exactDelay
		slog.WarnContext(ctx, "fetch attempt failed",
			"url", link, "attempt", attempt+1, "err", err)
	}

	return Page{}, &FetchExhaustedError{
		URL:      link,
		Attempts: c.maxRetries,
		Cause:    lastErr,
	}
}

type attemptOutcome struct {
	retryable bool
	// exactDelay overrides the exponential formula before the next
	// attempt; negative means no override.
	exactDelay time.Duration
}

// attempt makes one gated request.
func (c *Client) attempt(ctx context.Context, link string, headers map[string]string) (Page, attemptOutcome, error) {
	transient := attemptOutcome{retryable: true, exactDelay: -1}
	terminal := attemptOutcome{exactDelay: -1}

	if err := c.gate.Wait(ctx); err != nil {
		return Page{}, terminal, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", c.identity())
	for k, v := range headers {
		req.SetHeader(k, v)
	}

	res, err := req.Get(link)
	if err != nil {
		// timeouts, connection resets and friends
		return Page{}, transient, err
	}

	status := res.StatusCode()
	switch {
	case status == http.StatusTooManyRequests:
		if d, ok := parseRetryAfter(res.Header().Get("Retry-After"), c.clock.Now()); ok {
			slog.WarnContext(ctx, "throttled by server, honoring retry-after",
				"url", link, "wait", d)
			return Page{}, attemptOutcome{retryable: true, exactDelay: d},
				fmt.Errorf("%w: 429", ErrBadStatus)
		}
		return Page{}, transient, fmt.Errorf("%w: 429", ErrBadStatus)
	case status >= 500:
		return Page{}, transient, fmt.Errorf("%w: %d", ErrBadStatus, status)
	case status >= 400:
		return Page{}, terminal, fmt.Errorf("%w: %d", ErrBadStatus, status)
	}

	body, err := decodeBody(res.Body(), res.Header().Get("Content-Encoding"))
	if err != nil {
		// a truncated or corrupt compressed stream means the transfer
		// itself went wrong
		return Page{}, transient, err
	}

	return Page{
		Body:     body,
		Header:   res.Header(),
		FinalURL: res.RawResponse.Request.URL.String(),
	}, terminal, nil
}

func (c *Client) identity() string {
	idx, err := random.IntRange(0, len(c.identities))
	if err != nil {
		idx = 0
	}
	return c.identities[idx%len(c.identities)]
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay * (1 << (attempt - 1))
	millis := int(c.baseDelay / time.Millisecond)
	if millis > 0 {
		n, err := random.IntRange(0, millis+1)
		if err == nil {
			d += time.Duration(n%(millis+1)) * time.Millisecond
		}
	}
	return d
}

// parseRetryAfter accepts both the delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}
