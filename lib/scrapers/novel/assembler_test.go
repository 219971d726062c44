package novel

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"novelarc/lib/chrono"
	"novelarc/lib/fetch"
	"novelarc/lib/htmlutil"
	"novelarc/lib/render"
	"novelarc/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// fakeSession serves canned documents instead of driving a browser.
// Unknown addresses fail WaitReady the way a 404 would.
type fakeSession struct {
	pages       map[string]string
	current     string
	navigations []string
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.current = url
	s.navigations = append(s.navigations, url)
	return nil
}

func (s *fakeSession) WaitReady(ctx context.Context) error {
	if _, ok := s.pages[s.current]; !ok {
		return fmt.Errorf("no such page: %s", s.current)
	}
	return nil
}

func (s *fakeSession) State(ctx context.Context) (render.PageState, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.pages[s.current]))
	if err != nil {
		return render.PageState{}, err
	}
	paragraphs := doc.Find("#TextContent p")
	return render.PageState{
		ParagraphCount: paragraphs.Length(),
		FirstParagraph: strings.TrimSpace(paragraphs.First().Text()),
	}, nil
}

func (s *fakeSession) HasReorderScript(ctx context.Context) (bool, error) {
	return strings.Contains(s.pages[s.current], `mark("mid")`), nil
}

func (s *fakeSession) HTML(ctx context.Context) (string, error) {
	return s.pages[s.current], nil
}

func (s *fakeSession) Close() error { return nil }

type archivedChapter struct {
	Title   string
	Content string
}

type memArchive struct {
	chapters map[int]archivedChapter
}

func newMemArchive() *memArchive {
	return &memArchive{chapters: map[int]archivedChapter{}}
}

func (a *memArchive) Exists(ctx context.Context, bookID string, index int) (bool, error) {
	_, ok := a.chapters[index]
	return ok, nil
}

func (a *memArchive) WriteChapter(ctx context.Context, bookID string, index int, title, content string) error {
	a.chapters[index] = archivedChapter{Title: title, Content: content}
	return nil
}

func contentPage(title, nextpage string, paragraphs ...string) string {
	var b strings.Builder
	b.WriteString("<html><head>")
	if nextpage != "" {
		fmt.Fprintf(&b, `<script>var nextpage="%s";</script>`, nextpage)
	}
	b.WriteString("</head><body>")
	if title != "" {
		fmt.Fprintf(&b, `<div id="mlfy_main_text"><h1>%s</h1></div>`, title)
	}
	b.WriteString(`<div id="TextContent">`)
	for _, p := range paragraphs {
		fmt.Fprintf(&b, "<p>%s</p>", p)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func testAssembler(t *testing.T, session *fakeSession, archive Archive, force bool) *Assembler {
	clock := chrono.NewSimulated(time.Now())
	detector := render.NewDetector(session, render.DetectorOptions{Clock: clock})
	client, err := fetch.NewClient(fetch.ClientOptions{
		BaseURL: "https://example.com",
		Gate:    fetch.NewGate(time.Second, clock),
		Clock:   clock,
	})
	require.NoError(t, err)

	assembler, err := NewAssembler(AssemblerOptions{
		Detector: detector,
		Client:   client,
		Archive:  archive,
		Force:    force,
	})
	require.NoError(t, err)
	return assembler
}

func TestAssembleMultiPageChapter(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "novel")
	defer cleanup()

	session := &fakeSession{pages: map[string]string{
		// the second sub-page has no nextpage pointer, so the third page
		// is found by probing the _3 suffix, which does not exist
		"https://example.com/novel/12/500.html":   contentPage("第一章 标题", "/novel/12/500_2.html", "第一段", "第二段"),
		"https://example.com/novel/12/500_2.html": contentPage("", "", "第三段", "第四段"),
	}}
	archive := newMemArchive()
	assembler := testAssembler(t, session, archive, false)

	chapter := &Chapter{Index: 1, Title: "catalog title", URL: "https://example.com/novel/12/500.html"}
	res := assembler.Assemble(context.Background(), "12", chapter)
	require.NoError(t, res.Err)
	require.Equal(t, StatusAssembled, res.Status)
	require.Equal(t, 2, res.SubPages)

	stored, ok := archive.chapters[1]
	require.True(t, ok)
	require.Equal(t, "第一章 标题", stored.Title)
	require.Equal(t, "第一段\n第二段\n第三段\n第四段", stored.Content)
	require.Equal(t, []string{
		"https://example.com/novel/12/500.html",
		"https://example.com/novel/12/500_2.html",
		"https://example.com/novel/12/500_3.html",
	}, session.navigations)
}

func TestAssembleStopsAtNextChapter(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "novel")
	defer cleanup()

	session := &fakeSession{pages: map[string]string{
		"https://example.com/novel/12/600.html": contentPage("", "/novel/12/601.html", "唯一一段"),
	}}
	archive := newMemArchive()
	assembler := testAssembler(t, session, archive, false)

	chapter := &Chapter{Index: 1, Title: "single", URL: "https://example.com/novel/12/600.html"}
	res := assembler.Assemble(context.Background(), "12", chapter)
	require.Equal(t, StatusAssembled, res.Status)
	require.Equal(t, 1, res.SubPages)
	// the pointer into chapter 601 ends the unit without navigating there
	require.Equal(t, []string{"https://example.com/novel/12/600.html"}, session.navigations)
}

func TestAssembleSkipsArchived(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "novel")
	defer cleanup()

	session := &fakeSession{pages: map[string]string{}}
	archive := newMemArchive()
	archive.chapters[3] = archivedChapter{Title: "done", Content: "done"}
	assembler := testAssembler(t, session, archive, false)

	chapter := &Chapter{Index: 3, Title: "done", URL: "https://example.com/novel/12/700.html"}
	res := assembler.Assemble(context.Background(), "12", chapter)
	require.Equal(t, StatusSkipped, res.Status)
	require.Empty(t, session.navigations)
}

func TestAssembleForceReassembles(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "novel")
	defer cleanup()

	session := &fakeSession{pages: map[string]string{
		"https://example.com/novel/12/700.html": contentPage("", "", "新的内容"),
	}}
	archive := newMemArchive()
	archive.chapters[3] = archivedChapter{Title: "old", Content: "old"}
	assembler := testAssembler(t, session, archive, true)

	chapter := &Chapter{Index: 3, Title: "redo", URL: "https://example.com/novel/12/700.html"}
	res := assembler.Assemble(context.Background(), "12", chapter)
	require.Equal(t, StatusAssembled, res.Status)
	require.Equal(t, "新的内容", archive.chapters[3].Content)
}

func TestAssembleUnresolvedChapter(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "novel")
	defer cleanup()

	assembler := testAssembler(t, &fakeSession{}, newMemArchive(), false)
	chapter := placeholderChapter(5, "five")
	res := assembler.Assemble(context.Background(), "12", chapter)
	require.Equal(t, StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, ErrUnresolved)
}

func TestAssembleBlockedPage(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "novel")
	defer cleanup()

	session := &fakeSession{pages: map[string]string{
		"https://example.com/novel/12/800.html": "<html><body>Sorry, you have been blocked</body></html>",
	}}
	archive := newMemArchive()
	assembler := testAssembler(t, session, archive, false)

	chapter := &Chapter{Index: 1, Title: "blocked", URL: "https://example.com/novel/12/800.html"}
	res := assembler.Assemble(context.Background(), "12", chapter)
	require.Equal(t, StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, render.ErrBlocked)
	require.Empty(t, archive.chapters)
}

func TestAssembleAllIsolatesFailures(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "novel")
	defer cleanup()

	session := &fakeSession{pages: map[string]string{
		"https://example.com/novel/12/900.html": contentPage("", "", "九百"),
		// 901 is missing so chapter two fails on its first page
		"https://example.com/novel/12/902.html": contentPage("", "", "九百零二"),
	}}
	archive := newMemArchive()
	assembler := testAssembler(t, session, archive, false)

	book := &Book{
		ID: "12",
		Volumes: []*Volume{{Name: "v1", Chapters: []*Chapter{
			{Index: 1, Title: "one", URL: "https://example.com/novel/12/900.html"},
			{Index: 2, Title: "two", URL: "https://example.com/novel/12/901.html"},
			{Index: 3, Title: "three", URL: "https://example.com/novel/12/902.html"},
		}}},
	}

	out := assembler.AssembleAll(context.Background(), book)
	require.Len(t, out.Results, 3)
	require.Equal(t, 2, out.Count(StatusAssembled))
	require.Equal(t, 1, out.Count(StatusFailed))
	require.Equal(t, StatusFailed, out.Results[1].Status)

	_, ok := archive.chapters[1]
	require.True(t, ok)
	_, ok = archive.chapters[3]
	require.True(t, ok)
}

func TestMergeSequences(t *testing.T) {
	merged := MergeSequences([][]htmlutil.Paragraph{
		{{Text: "a"}, {Text: "b"}},
		{{Text: "c", BlankLineBefore: true}},
		{{Text: "d"}},
	})
	want := []htmlutil.Paragraph{
		{Text: "a"}, {Text: "b"}, {Text: "c", BlankLineBefore: true}, {Text: "d"},
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Fatalf("merged sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderContent(t *testing.T) {
	content := RenderContent([]htmlutil.Paragraph{
		{Text: "one"},
		{Text: "two", BlankLineBefore: true},
		{Text: "three"},
	})
	require.Equal(t, "one\n\ntwo\nthree", content)

	// a leading blank flag produces no leading empty line
	content = RenderContent([]htmlutil.Paragraph{
		{Text: "only", BlankLineBefore: true},
	})
	require.Equal(t, "only", content)

	require.Equal(t, "", RenderContent(nil))
}
