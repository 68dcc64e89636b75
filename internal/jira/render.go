package jira

import (
	"fmt"
	"html"
	"strings"
)

// inlineCardStyle is applied to issue cross-reference links.
const inlineCardStyle = "background-color: #f4f5f7; border-radius: 3px; padding: 0 4px; color: #0052cc; text-decoration: none;"

// RenderHTML renders a document to HTML. Anything that is not a "doc"
// node renders as the empty string. Node types without a dedicated
// rendering contribute their children only.
func RenderHTML(doc *Node) string {
	if doc == nil || doc.Type != "doc" {
		return ""
	}
	var sb strings.Builder
	renderChildren(&sb, doc)
	return sb.String()
}

func renderChildren(sb *strings.Builder, n *Node) {
	for i := range n.Content {
		renderNode(sb, &n.Content[i])
	}
}

func renderWrapped(sb *strings.Builder, n *Node, open, close string) {
	sb.WriteString(open)
	renderChildren(sb, n)
	sb.WriteString(close)
}

func renderNode(sb *strings.Builder, n *Node) {
	switch n.Type {
	case "paragraph":
		renderWrapped(sb, n, "<p>", "</p>")
	case "text":
		sb.WriteString(renderText(n))
	case "hardBreak":
		sb.WriteString("<br>")
	case "bulletList":
		renderWrapped(sb, n, "<ul>", "</ul>")
	case "orderedList":
		renderWrapped(sb, n, "<ol>", "</ol>")
	case "listItem":
		renderWrapped(sb, n, "<li>", "</li>")
	case "heading":
		level := headingLevel(n)
		renderWrapped(sb, n, fmt.Sprintf("<h%d>", level), fmt.Sprintf("</h%d>", level))
	case "blockquote":
		renderWrapped(sb, n, "<blockquote>", "</blockquote>")
	case "codeBlock":
		renderWrapped(sb, n, "<pre><code>", "</code></pre>")
	case "rule":
		sb.WriteString("<hr>")
	case "mention":
		label := n.attr("text")
		if label == "" {
			label = "@" + n.attr("id")
		}
		sb.WriteString(html.EscapeString(label))
	case "inlineCard":
		href := n.attr("url")
		label := ExtractKey(href)
		if label == "" {
			label = href
		}
		fmt.Fprintf(sb, `<a href="%s" target="_blank" style="%s">%s</a>`,
			html.EscapeString(href), inlineCardStyle, html.EscapeString(label))
	default:
		renderChildren(sb, n)
	}
}

// renderText escapes the text and applies marks innermost first, in the
// order they appear on the node.
func renderText(n *Node) string {
	text := html.EscapeString(n.Text)
	for _, m := range n.Marks {
		switch m.Type {
		case "strong":
			text = "<strong>" + text + "</strong>"
		case "em":
			text = "<em>" + text + "</em>"
		case "underline":
			text = "<u>" + text + "</u>"
		case "code":
			text = "<code>" + text + "</code>"
		case "strike":
			text = "<s>" + text + "</s>"
		case "link":
			href, _ := m.Attrs["href"].(string)
			if href == "" {
				href = "#"
			}
			text = fmt.Sprintf(`<a href="%s" target="_blank">%s</a>`, html.EscapeString(href), text)
		}
	}
	return text
}

func headingLevel(n *Node) int {
	level := 1
	switch v := n.Attrs["level"].(type) {
	case float64:
		level = int(v)
	case int:
		level = v
	}
	if level < 1 || level > 6 {
		return 1
	}
	return level
}
