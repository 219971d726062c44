package render

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"novelarc/lib/chrono"
	"novelarc/lib/fetch"
	"novelarc/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("novelarc.render")

// blockedSignatures mark an interstitial challenge page.
var blockedSignatures = []string{
	"cloudflare",
	"sorry, you have been blocked",
}

// Observation is one stabilization poll. Only the two most recent
// observations are compared, no history is kept.
type Observation struct {
	ParagraphCount     int
	FirstParagraphHash uint64
	At                 time.Time
}

func observe(state PageState, at time.Time) Observation {
	return Observation{
		ParagraphCount:     state.ParagraphCount,
		FirstParagraphHash: xxhash.Sum64String(state.FirstParagraph),
		At:                 at,
	}
}

func (o Observation) sameContent(other Observation) bool {
	return o.ParagraphCount == other.ParagraphCount &&
		o.FirstParagraphHash == other.FirstParagraphHash
}

type DetectorOptions struct {
	// LoadTimeout bounds the Loading phase.
	LoadTimeout time.Duration
	// PollInterval is the pause between stabilization polls.
	PollInterval time.Duration
	// StabilizeTimeout bounds the Observing phase as a whole.
	StabilizeTimeout time.Duration
	// ContainerSelector locates the content container in the final
	// document, defaults to "#TextContent".
	ContainerSelector string
	// Gate, when set, is waited on before every page navigation so the
	// rendering session respects the same politeness interval as plain
	// fetches.
	Gate  *fetch.Gate
	Clock chrono.API
}

// Result is a stabilized page: its extracted paragraphs plus the final
// document for callers that need more than content (titles, pagination
// pointers).
type Result struct {
	Paragraphs []htmlutil.Paragraph
	HTML       string
}

// Detector waits out asynchronous client-side content reordering on one
// rendered page. A fixed single wait cannot be correct here because the
// reorder script's completion time is content-dependent; instead the
// document is polled until two consecutive observations agree, which
// approximates a fixed point without knowing the target order.
type Detector struct {
	session Session
	opts    DetectorOptions
}

func NewDetector(session Session, opts DetectorOptions) *Detector {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = time.Second * 30
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Millisecond * 500
	}
	if opts.StabilizeTimeout <= 0 {
		opts.StabilizeTimeout = time.Second * 25
	}
	if opts.ContainerSelector == "" {
		opts.ContainerSelector = "#TextContent"
	}
	if opts.Clock == nil {
		opts.Clock = chrono.NewStandardImpl()
	}
	return &Detector{session: session, opts: opts}
}

// Run navigates to url and drives the page through
// Loading → Observing → Stable, returning the extracted paragraph
// sequence. Terminal failures are ErrTimeout and ErrBlocked; a failure
// only abandons this page, the session stays usable.
func (d *Detector) Run(ctx context.Context, url string) (Result, error) {
	ctx, span := tracer.Start(ctx, "detector:Run")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	if d.opts.Gate != nil {
		if err := d.opts.Gate.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	// Loading
	loadCtx, cancel := context.WithTimeout(ctx, d.opts.LoadTimeout)
	defer cancel()
	if err := d.session.Navigate(loadCtx, url); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation failed")
		return Result{}, err
	}
	if err := d.session.WaitReady(loadCtx); err != nil {
		span.SetStatus(codes.Error, "load timeout")
		return Result{}, ErrTimeout
	}
	if err := d.checkBlocked(ctx); err != nil {
		span.SetStatus(codes.Error, "blocked")
		return Result{}, err
	}

	reorders, err := d.session.HasReorderScript(ctx)
	if err != nil {
		return Result{}, err
	}
	slog.DebugContext(ctx, "page loaded", "url", url, "reorder_script", reorders)

	// Observing
	if err := d.observeUntilStable(ctx, reorders); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	// Stable
	html, err := d.session.HTML(ctx)
	if err != nil {
		return Result{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, err
	}
	paragraphs := htmlutil.Paragraphs(doc, d.opts.ContainerSelector)
	span.SetAttributes(attribute.Int("paragraphs", len(paragraphs)))
	return Result{Paragraphs: paragraphs, HTML: html}, nil
}

// observeUntilStable polls until the latest two observations agree in
// both paragraph count and first-paragraph hash. A page without the
// reorder script still passes through here: two identical polls are
// indistinguishable from "reordering finished before the first poll".
func (d *Detector) observeUntilStable(ctx context.Context, reorders bool) error {
	deadline := d.opts.Clock.Now().Add(d.opts.StabilizeTimeout)

	var prev *Observation
	for {
		if d.opts.Clock.Now().After(deadline) {
			return ErrTimeout
		}

		state, err := d.session.State(ctx)
		if err != nil {
			return err
		}
		if err := d.checkBlocked(ctx); err != nil {
			return err
		}

		obs := observe(state, d.opts.Clock.Now())
		if prev != nil && obs.sameContent(*prev) {
			// the mark("mid") machinery is the only mutation source;
			// with it present (and quiet for two polls) or absent
			// entirely, the document has converged
			return nil
		}
		if prev != nil && !obs.sameContent(*prev) {
			slog.DebugContext(ctx, "document still mutating",
				"paragraphs", obs.ParagraphCount, "reorder_script", reorders)
		}
		prev = &obs

		if err := d.opts.Clock.Sleep(ctx, d.opts.PollInterval); err != nil {
			return err
		}
	}
}

func (d *Detector) checkBlocked(ctx context.Context) error {
	html, err := d.session.HTML(ctx)
	if err != nil {
		return err
	}
	lowered := strings.ToLower(html)
	for _, sig := range blockedSignatures {
		if strings.Contains(lowered, sig) {
			return ErrBlocked
		}
	}
	return nil
}
