package novel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"novelarc/lib/chrono"
	"novelarc/lib/fetch"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrNoAnchor means no chapter before the target is resolved, so
	// there is no page to start walking the pagination chain from.
	ErrNoAnchor = errors.New("no resolved chapter precedes the target")
	// ErrChainExhausted means the chain ended, looped, left the book, or
	// ran past the hop limit before the chapter identifier changed.
	ErrChainExhausted = errors.New("pagination chain exhausted")
)

type ResolverOptions struct {
	Client *fetch.Client
	// Cache is optional. When set, fetched chain pages are cached so
	// resolving several placeholders over the same stretch of chapters
	// does not refetch them.
	Cache    *badger.DB
	CacheTTL time.Duration
	// MaxChainWalk bounds the chain walk per target. Defaults to 50.
	MaxChainWalk int
	Clock        chrono.API
}

// Resolver fills in real addresses for placeholder chapters by walking
// the nextpage chain from the nearest resolved chapter before them. A
// chapter's address is taken from the first chain pointer whose chapter
// identifier differs from the anchor's.
type Resolver struct {
	client  *fetch.Client
	cache   *pageCache
	maxWalk int
}

func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("resolver requires a fetch client")
	}
	if opts.MaxChainWalk <= 0 {
		opts.MaxChainWalk = 50
	}
	if opts.Clock == nil {
		opts.Clock = chrono.NewStandardImpl()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}

	r := &Resolver{
		client:  opts.Client,
		maxWalk: opts.MaxChainWalk,
	}
	if opts.Cache != nil {
		base, err := url.Parse(opts.Client.BaseURL())
		if err != nil {
			return nil, err
		}
		r.cache = &pageCache{
			db:      opts.Cache,
			baseUrl: base,
			clock:   opts.Clock,
			ttl:     opts.CacheTTL,
		}
	}
	return r, nil
}

// Resolve fills in the real address of target. Resolving an already
// resolved chapter is a no-op. The book is only mutated on success.
func (r *Resolver) Resolve(ctx context.Context, book *Book, target *Chapter) error {
	ctx, span := tracer.Start(ctx, "resolver:Resolve")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "chapter_index",
		Value: attribute.IntValue(target.Index),
	})

	if target.Resolved() {
		return nil
	}

	anchor := book.AnchorBefore(target.Index)
	if anchor == nil {
		err := fmt.Errorf("%w: chapter %d %q", ErrNoAnchor, target.Index, target.Title)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no anchor")
		return err
	}
	anchorAddr, ok := ParseAddress(anchor.URL)
	if !ok {
		err := fmt.Errorf("anchor chapter %d has unparseable address %q", anchor.Index, anchor.URL)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad anchor address")
		return err
	}

	resolved, err := r.walk(ctx, anchor.URL, anchorAddr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chain walk failed")
		return fmt.Errorf("resolving chapter %d %q: %w", target.Index, target.Title, err)
	}

	target.OriginalURL = target.URL
	target.URL = resolved
	target.NeedsResolve = false
	slog.InfoContext(
		ctx, "resolved chapter address",
		"index", target.Index,
		"title", target.Title,
		"anchor", anchor.Index,
		"url", resolved,
	)
	return nil
}

// walk follows nextpage pointers starting at the anchor page until the
// chapter identifier changes, and returns the absolute address of that
// first transition page.
func (r *Resolver) walk(ctx context.Context, start string, anchorAddr Address) (string, error) {
	visited := map[string]bool{}
	current := start

	for hop := 0; hop < r.maxWalk; hop++ {
		if visited[current] {
			return "", fmt.Errorf("%w: chain revisits %s", ErrChainExhausted, current)
		}
		visited[current] = true

		body, err := r.fetchPage(ctx, current)
		if err != nil {
			return "", err
		}

		next, ok := NextPointer(string(body))
		if !ok {
			return "", fmt.Errorf("%w: no next pointer on %s", ErrChainExhausted, current)
		}
		nextAddr, ok := ParseAddress(next)
		if !ok {
			return "", fmt.Errorf("%w: unparseable next pointer %q on %s", ErrChainExhausted, next, current)
		}
		if nextAddr.BookID != anchorAddr.BookID {
			return "", fmt.Errorf("%w: chain left the book at %q", ErrChainExhausted, next)
		}

		absolute, err := r.client.Resolve(next)
		if err != nil {
			return "", err
		}
		if nextAddr.SameChapter(anchorAddr) {
			current = absolute
			continue
		}
		return absolute, nil
	}

	return "", fmt.Errorf("%w: exceeded %d hops from %s", ErrChainExhausted, r.maxWalk, start)
}

func (r *Resolver) fetchPage(ctx context.Context, address string) ([]byte, error) {
	if r.cache != nil {
		cached, err := r.cache.get(ctx, address)
		if err == nil {
			return cached.Body, nil
		}
		if err != errPageNotCached {
			slog.WarnContext(ctx, "page cache read failed", "address", address, "err", err)
		}
	}

	page, err := r.client.Fetch(ctx, address)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		err := r.cache.set(ctx, address, page.Body)
		if err != nil {
			slog.WarnContext(ctx, "page cache write failed", "address", address, "err", err)
		}
	}
	return page.Body, nil
}

type ResolveResult struct {
	Index int
	Err   error
}

// ResolveAll resolves every placeholder chapter in index order. A
// failed chapter is reported and skipped; later chapters still get
// their turn since each one anchors off whatever precedes it.
func (r *Resolver) ResolveAll(ctx context.Context, book *Book) []ResolveResult {
	ctx, span := tracer.Start(ctx, "resolver:ResolveAll")
	defer span.End()

	var results []ResolveResult
	for _, chapter := range book.Chapters() {
		if !chapter.NeedsResolve {
			continue
		}
		err := r.Resolve(ctx, book, chapter)
		if err != nil {
			slog.WarnContext(
				ctx, "failed to resolve chapter",
				"index", chapter.Index,
				"title", chapter.Title,
				"err", err,
			)
		}
		results = append(results, ResolveResult{Index: chapter.Index, Err: err})
	}
	return results
}
