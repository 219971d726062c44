package novel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Chapter pages carry a `var nextpage="..."` script variable pointing at
// either the next sub-page of the same chapter or the first page of the
// next chapter. Telling those two apart is the whole trick behind both
// chain resolution and multi-page assembly.
var (
	nextPointerPattern = regexp.MustCompile(`var\s+nextpage\s*=\s*"([^"]+)"`)
	addressPattern     = regexp.MustCompile(`/novel/(\d+)/(\d+)(_\d+)?\.html`)
)

// Address is the structural identity of one chapter page: which book,
// which chapter, and which sub-page (1 for the base page).
type Address struct {
	BookID    string
	ChapterID string
	SubPage   int
}

// SameChapter reports whether two addresses are sub-pages of the same
// chapter of the same book.
func (a Address) SameChapter(b Address) bool {
	return a.BookID == b.BookID && a.ChapterID == b.ChapterID
}

// ParseAddress extracts the structural identity from a chapter path or
// absolute URL. Addresses that do not match the chapter layout (catalog
// pages, placeholders) report ok=false.
func ParseAddress(raw string) (Address, bool) {
	m := addressPattern.FindStringSubmatch(raw)
	if m == nil {
		return Address{}, false
	}
	addr := Address{BookID: m[1], ChapterID: m[2], SubPage: 1}
	if m[3] != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(m[3], "_"))
		if err == nil && n > 0 {
			addr.SubPage = n
		}
	}
	return addr, true
}

// NextPointer extracts the nextpage pointer from rendered or fetched
// chapter HTML. The second return is false when the page carries no
// pointer at all, which on a base page means the chapter is the last one
// of the book.
func NextPointer(html string) (string, bool) {
	m := nextPointerPattern.FindStringSubmatch(html)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// SubPageAddress constructs the address of sub-page n of the chapter the
// base address belongs to. Used as a fallback probe when a page omits
// its nextpage pointer.
func SubPageAddress(base string, n int) (string, error) {
	addr, ok := ParseAddress(base)
	if !ok {
		return "", fmt.Errorf("not a chapter address: %q", base)
	}
	if n <= 1 {
		return fmt.Sprintf("/novel/%s/%s.html", addr.BookID, addr.ChapterID), nil
	}
	return fmt.Sprintf("/novel/%s/%s_%d.html", addr.BookID, addr.ChapterID, n), nil
}
