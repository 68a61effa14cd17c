package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// GetText concatenates every text node under node.
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

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		switch {
		case unicode.IsSpace(c):
			newStr.WriteByte(' ')
		case unicode.IsPrint(c):
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CollapseSpace trims s and folds every whitespace run into one space.
func CollapseSpace(s string) string {
	s = removeNonPrintable(s)
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(s, " "))
}

// Strip turns an html fragment into plain text: each tag becomes a word
// boundary, entities are decoded and whitespace is collapsed.
// `<p>C/ Mayor,&nbsp;3<br>Valencia</p>` becomes `C/ Mayor, 3 Valencia`.
func Strip(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return CollapseSpace(fragment)
	}

	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var out strings.Builder
	skipping := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input, either way keep what was read so far
			return CollapseSpace(out.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isRawText(name) {
				skipping++
			}
			out.WriteByte(' ')
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isRawText(name) && skipping > 0 {
				skipping--
			}
			out.WriteByte(' ')
		case html.SelfClosingTagToken:
			out.WriteByte(' ')
		case html.TextToken:
			if skipping == 0 {
				out.Write(tokenizer.Text())
			}
		}
	}
}

func isRawText(tag []byte) bool {
	switch string(tag) {
	case "script", "style":
		return true
	}
	return false
}
