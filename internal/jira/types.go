// Package jira is the issue-side store: a Jira Cloud REST v3 client for
// issue reads, field writes and comment listing, plus helpers for the
// Atlassian Document Format (ADF) used by rich-text fields and comments.
package jira

// Issue is a Jira issue. Fields is kept untyped because mappings address
// arbitrary system and custom fields by id.
type Issue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Self   string         `json:"self"`
	Fields map[string]any `json:"fields"`
}

// Field returns the raw value of a field and whether the issue carries it.
func (i *Issue) Field(id string) (any, bool) {
	if i.Fields == nil {
		return nil, false
	}
	v, ok := i.Fields[id]
	return v, ok
}

// User is the author of a comment.
type User struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// Comment is an issue comment with an ADF body.
type Comment struct {
	ID      string `json:"id"`
	Author  *User  `json:"author"`
	Body    *Node  `json:"body"`
	Created string `json:"created"`
	Updated string `json:"updated"`
}

// AuthorName returns the author's display name, or "Unknown".
func (c *Comment) AuthorName() string {
	if c.Author == nil || c.Author.DisplayName == "" {
		return "Unknown"
	}
	return c.Author.DisplayName
}

// commentPage is one page of GET /issue/{key}/comment.
type commentPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Comments   []Comment `json:"comments"`
}
