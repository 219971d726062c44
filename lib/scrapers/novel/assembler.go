package novel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"novelarc/lib/fetch"
	"novelarc/lib/htmlutil"
	"novelarc/lib/render"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrUnresolved means a chapter still carries its placeholder address
// and must go through the Resolver before it can be assembled.
var ErrUnresolved = errors.New("chapter address is unresolved")

// Archive persists assembled chapters. Implemented by lib/archive.
type Archive interface {
	Exists(ctx context.Context, bookID string, index int) (bool, error)
	WriteChapter(ctx context.Context, bookID string, index int, title, content string) error
}

type UnitStatus string

const (
	StatusAssembled UnitStatus = "assembled"
	StatusSkipped   UnitStatus = "skipped"
	StatusFailed    UnitStatus = "failed"
)

type UnitResult struct {
	Index    int
	Status   UnitStatus
	SubPages int
	Err      error
}

type AssemblerOptions struct {
	Detector *render.Detector
	// Client is only used for address resolution; all page traffic for
	// assembly goes through the rendering session.
	Client  *fetch.Client
	Archive Archive
	// MaxSubPages caps how many sub-pages one chapter may span.
	// Defaults to 20.
	MaxSubPages int
	// Force reassembles chapters that are already archived.
	Force bool
}

// Assembler renders every sub-page of a chapter, merges their paragraphs
// in order and writes the result to the archive.
type Assembler struct {
	detector    *render.Detector
	client      *fetch.Client
	archive     Archive
	maxSubPages int
	force       bool
}

func NewAssembler(opts AssemblerOptions) (*Assembler, error) {
	if opts.Detector == nil {
		return nil, fmt.Errorf("assembler requires a render detector")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("assembler requires a fetch client")
	}
	if opts.Archive == nil {
		return nil, fmt.Errorf("assembler requires an archive")
	}
	if opts.MaxSubPages <= 0 {
		opts.MaxSubPages = 20
	}
	return &Assembler{
		detector:    opts.Detector,
		client:      opts.Client,
		archive:     opts.Archive,
		maxSubPages: opts.MaxSubPages,
		force:       opts.Force,
	}, nil
}

// Assemble downloads one chapter. Chapters already present in the
// archive are skipped without any network traffic unless Force is set.
func (a *Assembler) Assemble(ctx context.Context, bookID string, chapter *Chapter) UnitResult {
	ctx, span := tracer.Start(ctx, "assembler:Assemble")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "chapter_index",
		Value: attribute.IntValue(chapter.Index),
	})

	fail := func(err error) UnitResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assembly failed")
		return UnitResult{Index: chapter.Index, Status: StatusFailed, Err: err}
	}

	if !chapter.Resolved() {
		return fail(fmt.Errorf("%w: chapter %d %q", ErrUnresolved, chapter.Index, chapter.Title))
	}

	if !a.force {
		exists, err := a.archive.Exists(ctx, bookID, chapter.Index)
		if err != nil {
			return fail(err)
		}
		if exists {
			slog.DebugContext(ctx, "chapter already archived", "index", chapter.Index)
			return UnitResult{Index: chapter.Index, Status: StatusSkipped}
		}
	}

	baseAddr, ok := ParseAddress(chapter.URL)
	if !ok {
		return fail(fmt.Errorf("chapter %d has unparseable address %q", chapter.Index, chapter.URL))
	}

	title := chapter.Title
	var sequences [][]htmlutil.Paragraph
	current := chapter.URL

	for pageNo := 1; pageNo <= a.maxSubPages; pageNo++ {
		res, err := a.detector.Run(ctx, current)
		if err != nil {
			if errors.Is(err, render.ErrBlocked) || pageNo == 1 {
				return fail(err)
			}
			// later sub-pages that fail to load mark the end of the
			// chapter, probe URLs past the last real page 404
			slog.DebugContext(ctx, "sub-page did not load, ending chapter",
				"index", chapter.Index, "page", pageNo, "err", err)
			break
		}

		if pageNo == 1 {
			if t := extractTitle(res.HTML); t != "" {
				title = t
			}
		}

		if len(res.Paragraphs) == 0 {
			if pageNo == 1 {
				return fail(fmt.Errorf("chapter %d rendered no content", chapter.Index))
			}
			break
		}
		sequences = append(sequences, res.Paragraphs)

		next, found := a.nextSubPage(res.HTML, chapter.URL, baseAddr, pageNo)
		if !found {
			break
		}
		current = next
	}

	if len(sequences) == a.maxSubPages {
		slog.WarnContext(ctx, "chapter hit sub-page cap, content may be truncated",
			"index", chapter.Index, "cap", a.maxSubPages)
	}

	content := RenderContent(MergeSequences(sequences))
	err := a.archive.WriteChapter(ctx, bookID, chapter.Index, title, content)
	if err != nil {
		return fail(err)
	}

	slog.InfoContext(ctx, "assembled chapter",
		"index", chapter.Index, "title", title, "sub_pages", len(sequences))
	return UnitResult{Index: chapter.Index, Status: StatusAssembled, SubPages: len(sequences)}
}

// nextSubPage decides where the next sub-page of the chapter lives. A
// nextpage pointer into the same chapter is followed directly; a pointer
// into another chapter ends the unit. Pages without a pointer fall back
// to probing the _<n+1>.html suffix, which ends the unit when it 404s.
func (a *Assembler) nextSubPage(html, baseURL string, baseAddr Address, pageNo int) (string, bool) {
	if ptr, ok := NextPointer(html); ok {
		addr, parsed := ParseAddress(ptr)
		if !parsed || !addr.SameChapter(baseAddr) {
			return "", false
		}
		absolute, err := a.client.Resolve(ptr)
		if err != nil {
			return "", false
		}
		return absolute, true
	}

	probe, err := SubPageAddress(baseURL, pageNo+1)
	if err != nil {
		return "", false
	}
	absolute, err := a.client.Resolve(probe)
	if err != nil {
		return "", false
	}
	return absolute, true
}

type AssembleAllResult struct {
	Results []UnitResult
}

func (r AssembleAllResult) Count(status UnitStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// AssembleAll walks every chapter of the book in index order. One
// chapter failing does not stop the rest.
func (a *Assembler) AssembleAll(ctx context.Context, book *Book) AssembleAllResult {
	ctx, span := tracer.Start(ctx, "assembler:AssembleAll")
	defer span.End()

	var out AssembleAllResult
	for _, chapter := range book.Chapters() {
		res := a.Assemble(ctx, book.ID, chapter)
		if res.Err != nil {
			slog.WarnContext(ctx, "failed to assemble chapter",
				"index", chapter.Index, "title", chapter.Title, "err", res.Err)
		}
		out.Results = append(out.Results, res)
	}

	slog.InfoContext(ctx, "finished assembly",
		"book", book.Name,
		"assembled", out.Count(StatusAssembled),
		"skipped", out.Count(StatusSkipped),
		"failed", out.Count(StatusFailed),
	)
	return out
}

// MergeSequences concatenates per-sub-page paragraph sequences in
// sub-page order.
func MergeSequences(sequences [][]htmlutil.Paragraph) []htmlutil.Paragraph {
	var out []htmlutil.Paragraph
	for _, seq := range sequences {
		out = append(out, seq...)
	}
	return out
}

// RenderContent lays paragraphs out one per line, keeping the blank
// lines the page expressed through runs of <br> tags.
func RenderContent(paragraphs []htmlutil.Paragraph) string {
	var lines []string
	for _, p := range paragraphs {
		if p.BlankLineBefore && len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, p.Text)
	}
	return strings.Join(lines, "\n")
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	title := strings.TrimSpace(doc.Find("#mlfy_main_text > h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return title
}
