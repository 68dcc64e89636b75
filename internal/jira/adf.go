package jira

import (
	"encoding/json"
	"strings"
)

// Node is one node of an Atlassian Document Format tree. The root has
// Type "doc" and Version 1.
type Node struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
	Content []Node         `json:"content,omitempty"`
}

// Mark is an inline formatting mark on a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// attr returns a string attribute, or "" when missing or not a string.
func (n *Node) attr(name string) string {
	s, _ := n.Attrs[name].(string)
	return s
}

// TextDocument builds the smallest document holding text: one paragraph
// with one text node. The result is a plain map so it compares equal to a
// document decoded from a Jira response.
func TextDocument(text string) map[string]any {
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []any{
			map[string]any{
				"type": "paragraph",
				"content": []any{
					map[string]any{"type": "text", "text": text},
				},
			},
		},
	}
}

// DecodeDocument converts a decoded JSON value (typically a field value
// from an issue) into a document tree. It reports false when v is not a
// "doc" node.
func DecodeDocument(v any) (*Node, bool) {
	if v == nil {
		return nil, false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var doc Node
	if err := json.Unmarshal(data, &doc); err != nil || doc.Type != "doc" {
		return nil, false
	}
	return &doc, true
}

// FirstParagraphText returns the concatenated text of the first paragraph
// of a document.
func FirstParagraphText(doc *Node) (string, bool) {
	if doc == nil {
		return "", false
	}
	for i := range doc.Content {
		if doc.Content[i].Type == "paragraph" {
			return plainText(&doc.Content[i]), true
		}
	}
	return "", false
}

func plainText(n *Node) string {
	if n.Type == "text" {
		return n.Text
	}
	var sb strings.Builder
	for i := range n.Content {
		sb.WriteString(plainText(&n.Content[i]))
	}
	return sb.String()
}
