package novel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"novelarc/lib/fetch"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("novelarc.scrapers.novel")

var (
	lastUpdatePattern    = regexp.MustCompile(`最后更新：(\d{4}-\d{2}-\d{2})`)
	latestChapterPattern = regexp.MustCompile(`最新章节：(.+)`)
)

// Catalog scrapes the structural index of a book from its catalog page.
type Catalog struct {
	client *fetch.Client
}

func NewCatalog(client *fetch.Client) Catalog {
	return Catalog{client: client}
}

// Fetch downloads and parses the catalog for one book. Chapters come
// back in reading order with a globally monotonic Index; any chapter
// whose link is the placeholder is flagged NeedsResolve.
func (c Catalog) Fetch(ctx context.Context, bookID string) (*Book, error) {
	ctx, span := tracer.Start(ctx, "catalog:Fetch")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "book_id",
		Value: attribute.StringValue(bookID),
	})

	address := fmt.Sprintf("/novel/%s/catalog", bookID)
	page, err := c.client.Fetch(ctx, address)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch catalog page")
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse catalog html")
		return nil, err
	}

	book := c.parse(doc, bookID)
	if len(book.Volumes) == 0 {
		err := fmt.Errorf("catalog has no volumes: %s", address)
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty catalog")
		return nil, err
	}

	unresolved := 0
	for _, ch := range book.Chapters() {
		if ch.NeedsResolve {
			unresolved++
		}
	}
	slog.InfoContext(
		ctx, "fetched catalog",
		"book", book.Name,
		"volumes", len(book.Volumes),
		"chapters", len(book.Chapters()),
		"unresolved", unresolved,
	)

	return book, nil
}

func (c Catalog) parse(doc *goquery.Document, bookID string) *Book {
	book := &Book{ID: bookID}

	book.Name = strings.TrimSpace(doc.Find("div.book-meta > h1").First().Text())
	doc.Find("div.book-meta > p > span").Each(func(_ int, span *goquery.Selection) {
		text := strings.TrimSpace(span.Text())
		switch {
		case strings.HasPrefix(text, "作者："):
			book.Author = strings.TrimSpace(strings.TrimPrefix(text, "作者："))
		case strings.HasPrefix(text, "最后更新："):
			if m := lastUpdatePattern.FindStringSubmatch(text); m != nil {
				book.LastUpdate = m[1]
			}
		case strings.HasPrefix(text, "最新章节："):
			if m := latestChapterPattern.FindStringSubmatch(text); m != nil {
				book.LatestChapter = strings.TrimSpace(m[1])
			}
		}
	})

	// Some books wrap every div.volume in a #volume-list container while
	// others leave them as siblings of it, so volumes are selected
	// globally instead of under the container.
	index := 0
	doc.Find("div.volume.clearfix").Each(func(_ int, volumeDiv *goquery.Selection) {
		volume := &Volume{}
		volume.Name = strings.TrimSpace(volumeDiv.Find("h2.v-line").First().Text())

		cover := volumeDiv.Find("a.volume-cover").First()
		if href, ok := cover.Attr("href"); ok {
			if resolved, err := c.client.Resolve(href); err == nil {
				volume.FrontPage = resolved
			}
		}
		if src, ok := cover.Find("img").First().Attr("src"); ok {
			volume.CoverImage = src
		}

		volumeDiv.Find("ul.chapter-list.clearfix > li.col-4 > a").Each(func(_ int, link *goquery.Selection) {
			title := strings.TrimSpace(link.Text())
			href, _ := link.Attr("href")
			if title == "" {
				return
			}

			index++
			chapter := &Chapter{
				Index: index,
				Title: title,
			}
			if href == "" || strings.HasPrefix(href, UnresolvedMarker) {
				chapter.URL = UnresolvedMarker
				chapter.OriginalURL = href
				chapter.NeedsResolve = true
			} else if resolved, err := c.client.Resolve(href); err == nil {
				chapter.URL = resolved
			} else {
				chapter.URL = href
			}
			volume.Chapters = append(volume.Chapters, chapter)
		})

		if volume.Name != "" || len(volume.Chapters) > 0 {
			book.Volumes = append(book.Volumes, volume)
		}
	})

	return book
}
