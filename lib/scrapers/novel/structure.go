package novel

// UnresolvedMarker is the placeholder href catalog pages emit for
// chapters whose real address is not published. Chapters carrying it must
// go through the Resolver before their content can be fetched.
const UnresolvedMarker = "javascript:cid(0)"

// Chapter is one content unit of the structural index. Index is unique
// and monotonic across the whole book, not per volume. Once a chapter is
// resolved it never reverts: URL keeps the real address and OriginalURL
// retains the placeholder for traceability.
type Chapter struct {
	Index        int    `json:"index"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	OriginalURL  string `json:"original_url,omitempty"`
	NeedsResolve bool   `json:"needs_resolve"`
}

func (c *Chapter) Resolved() bool {
	return !c.NeedsResolve && c.URL != "" && c.URL != UnresolvedMarker
}

type Volume struct {
	Name       string     `json:"volume_name"`
	FrontPage  string     `json:"front_page,omitempty"`
	CoverImage string     `json:"cover_image,omitempty"`
	Chapters   []*Chapter `json:"chapters"`
}

// Book is the structural index for one work: catalog metadata plus every
// volume and chapter in reading order. It is owned by the caller and
// passed by reference to the Resolver and Assembler; both mutate
// individual chapters but never the same chapter concurrently.
type Book struct {
	ID            string    `json:"book_id"`
	Name          string    `json:"name"`
	Author        string    `json:"author,omitempty"`
	LastUpdate    string    `json:"last_update,omitempty"`
	LatestChapter string    `json:"latest_chapter,omitempty"`
	Volumes       []*Volume `json:"volumes"`
}

// Chapters flattens the volume structure into index order.
func (b *Book) Chapters() []*Chapter {
	var out []*Chapter
	for _, v := range b.Volumes {
		out = append(out, v.Chapters...)
	}
	return out
}

func (b *Book) ChapterByIndex(index int) *Chapter {
	for _, c := range b.Chapters() {
		if c.Index == index {
			return c
		}
	}
	return nil
}

// AnchorBefore returns the nearest chapter preceding index (in index
// order) that is already resolved, or nil when none exists.
func (b *Book) AnchorBefore(index int) *Chapter {
	var anchor *Chapter
	for _, c := range b.Chapters() {
		if c.Index >= index {
			break
		}
		if c.Resolved() {
			anchor = c
		}
	}
	return anchor
}
