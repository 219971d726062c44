package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// Paragraph is one line of extracted content. BlankLineBefore records
// whether the source document separated it from the previous paragraph
// with explicit <br> spacing.
type Paragraph struct {
	Text            string
	BlankLineBefore bool
}

var adPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^【.*】`),
	regexp.MustCompile(`^广告`),
	regexp.MustCompile(`^手工砖块$`),
	regexp.MustCompile(`(?i)adsbygoogle|google`),
}

// ContentParagraph reports whether text is real content rather than an
// injected advertisement or stray script fragment.
func ContentParagraph(text string) bool {
	if utf8.RuneCountInString(text) < 2 {
		return false
	}
	for _, p := range adPatterns {
		if p.MatchString(text) {
			return false
		}
	}
	return true
}

// Paragraphs extracts the content paragraphs under containerSelector,
// preserving <br>-induced blank lines between them. When the container is
// missing or empty it falls back to scanning every <p> in the document
// (without blank line information).
func Paragraphs(doc *goquery.Document, containerSelector string) []Paragraph {
	var out []Paragraph

	container := doc.Find(containerSelector)
	if container.Length() > 0 {
		blankPending := false
		container.Find("p, br").Each(func(_ int, sel *goquery.Selection) {
			node := sel.Nodes[0]
			if node.Data == "br" {
				// a <br> run only counts as a blank line when a
				// paragraph already came before it
				if len(out) > 0 {
					blankPending = true
				}
				return
			}
			text := strings.TrimSpace(sel.Text())
			if !ContentParagraph(text) {
				return
			}
			out = append(out, Paragraph{Text: text, BlankLineBefore: blankPending})
			blankPending = false
		})
	}

	if len(out) == 0 {
		doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
			text := strings.TrimSpace(sel.Text())
			if !ContentParagraph(text) {
				return
			}
			out = append(out, Paragraph{Text: text})
		})
	}

	return out
}
