// Package quiz implements question extraction, answer normalization, and
// answer submission against the quiz server.
package quiz

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	"quizpilot/internal/domain"
)

// ErrQuestionNotFound means the page holds no recognizable question
// container. This reflects page content, not a transient fault, so it is
// never retried.
var ErrQuestionNotFound = errors.New("question container not found")

// Quiz pages reveal the question by injecting atob("...") output; the base64
// argument is the payload.
var atobPattern = regexp.MustCompile(`atob\(['"` + "`" + `]([A-Za-z0-9+/=]+)['"` + "`" + `]\)`)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// Question container element IDs, in lookup order.
var containerIDs = []string{"question", "result"}

// Extract locates the question payload in rendered page content and decodes
// it if encoded. It looks for an atob() call in a script element first, then
// for a question container element. Already-plain text passes through
// verbatim with EncodingPlain, so extraction is idempotent.
func Extract(pageContent string) (domain.QuestionPayload, error) {
	doc, err := html.Parse(strings.NewReader(pageContent))
	if err != nil {
		return domain.QuestionPayload{}, ErrQuestionNotFound
	}

	for _, script := range scriptTexts(doc) {
		m := atobPattern.FindStringSubmatch(script)
		if m == nil {
			continue
		}
		if decoded, ok := decodeBase64(m[1]); ok {
			return domain.QuestionPayload{Text: decoded, Encoding: domain.EncodingBase64}, nil
		}
	}

	for _, id := range containerIDs {
		el := findByID(doc, id)
		if el == nil {
			continue
		}
		text := strings.TrimSpace(collectText(el))
		if text == "" {
			continue
		}
		if decoded, ok := decodeBase64(text); ok {
			return domain.QuestionPayload{Text: decoded, Encoding: domain.EncodingBase64}, nil
		}
		return domain.QuestionPayload{Text: text, Encoding: domain.EncodingPlain}, nil
	}

	return domain.QuestionPayload{}, ErrQuestionNotFound
}

// decodeBase64 attempts a strict decode and reports whether s was actually
// encoded text. The charset and padding pre-checks keep ordinary prose (which
// contains spaces and punctuation) from ever being decoded, which is what
// makes Extract safe to re-run on decoded output.
func decodeBase64(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 4 || len(s)%4 != 0 || !base64Pattern.MatchString(s) {
		return "", false
	}
	raw, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return "", false
	}
	decoded := string(raw)
	if !utf8.ValidString(decoded) || !printableText(decoded) {
		return "", false
	}
	return decoded, true
}

func printableText(s string) bool {
	for _, r := range s {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		return false
	}
	return true
}

func scriptTexts(doc *html.Node) []string {
	var texts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			if sb.Len() > 0 {
				texts = append(texts, sb.String())
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return texts
}

func findByID(doc *html.Node, id string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				if attr.Key == "id" && attr.Val == id {
					found = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
