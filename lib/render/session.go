package render

import (
	"context"
	"errors"
)

// Errors terminal to one page's detection attempt. ErrBlocked means an
// interstitial challenge was served; retrying against an active challenge
// only raises the detection risk, so it is never retried automatically.
var (
	ErrTimeout = errors.New("render: page did not stabilize in time")
	ErrBlocked = errors.New("render: blocked by interstitial challenge")
)

// PageState is one raw poll of the rendered document.
type PageState struct {
	ParagraphCount int
	FirstParagraph string
}

// Session drives one JavaScript-capable rendering context. Sessions are
// expensive, a unit assembly owns exactly one and navigates it from
// sub-page to sub-page.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until the document finished its initial load.
	WaitReady(ctx context.Context) error
	State(ctx context.Context) (PageState, error)
	// HasReorderScript reports whether the current document carries the
	// client-side reordering machinery.
	HasReorderScript(ctx context.Context) (bool, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}
