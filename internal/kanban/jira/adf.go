package jira

import (
	"strings"

	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
)

// TextToADF wraps plain text in a minimal Atlassian Document Format tree,
// one paragraph per input line. Jira v3 rejects plain-string descriptions.
func TextToADF(text string) *models.CommentNodeScheme {
	doc := &models.CommentNodeScheme{Version: 1, Type: "doc"}
	for _, line := range strings.Split(text, "\n") {
		para := &models.CommentNodeScheme{Type: "paragraph"}
		if line != "" {
			para.Content = []*models.CommentNodeScheme{{Type: "text", Text: line}}
		}
		doc.Content = append(doc.Content, para)
	}
	return doc
}

// ADFToText flattens an ADF tree back to plain text. Formatting marks are
// dropped; block nodes become newlines. Good enough for descriptions that
// round-trip through the sync engine.
func ADFToText(node *models.CommentNodeScheme) string {
	if node == nil {
		return ""
	}
	var b strings.Builder
	flatten(&b, node)
	return strings.TrimRight(b.String(), "\n")
}

func flatten(b *strings.Builder, node *models.CommentNodeScheme) {
	if node == nil {
		return
	}
	switch node.Type {
	case "text":
		b.WriteString(node.Text)
	case "hardBreak":
		b.WriteString("\n")
	case "paragraph", "heading", "codeBlock", "blockquote", "listItem":
		for _, child := range node.Content {
			flatten(b, child)
		}
		b.WriteString("\n")
	default:
		for _, child := range node.Content {
			flatten(b, child)
		}
	}
}
