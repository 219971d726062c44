package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestContentParagraph(t *testing.T) {
	require.True(t, ContentParagraph("正文内容"))
	require.True(t, ContentParagraph("ab"))

	// too short
	require.False(t, ContentParagraph(""))
	require.False(t, ContentParagraph("a"))

	// injected noise
	require.False(t, ContentParagraph("【广告位招租】"))
	require.False(t, ContentParagraph("广告请无视"))
	require.False(t, ContentParagraph("手工砖块"))
	require.False(t, ContentParagraph("(adsbygoogle = window.adsbygoogle || []).push({});"))
}

func parseDoc(t *testing.T, html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestParagraphsPreservesBlankLines(t *testing.T) {
	doc := parseDoc(t, `<html><body><div id="TextContent">
		<p>第一段</p>
		<p>第二段</p>
		<br><br>
		<p>场景切换</p>
	</div></body></html>`)

	out := Paragraphs(doc, "#TextContent")
	require.Equal(t, []Paragraph{
		{Text: "第一段"},
		{Text: "第二段"},
		{Text: "场景切换", BlankLineBefore: true},
	}, out)
}

func TestParagraphsFiltersAds(t *testing.T) {
	doc := parseDoc(t, `<html><body><div id="TextContent">
		<p>【推荐一本书】</p>
		<p>真正的内容</p>
		<p>广告内容</p>
		<p>更多内容</p>
	</div></body></html>`)

	out := Paragraphs(doc, "#TextContent")
	require.Equal(t, []Paragraph{
		{Text: "真正的内容"},
		{Text: "更多内容"},
	}, out)
}

func TestParagraphsLeadingBreaksIgnored(t *testing.T) {
	doc := parseDoc(t, `<html><body><div id="TextContent">
		<br><br>
		<p>开头</p>
	</div></body></html>`)

	out := Paragraphs(doc, "#TextContent")
	require.Equal(t, []Paragraph{{Text: "开头"}}, out)
}

func TestParagraphsFallbackScan(t *testing.T) {
	// no container, fall back to scanning every <p> in the document
	doc := parseDoc(t, `<html><body><article>
		<p>散落的段落</p>
		<p>another one</p>
	</article></body></html>`)

	out := Paragraphs(doc, "#TextContent")
	require.Equal(t, []Paragraph{
		{Text: "散落的段落"},
		{Text: "another one"},
	}, out)
}
