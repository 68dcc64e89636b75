// Package zendesk is the ticket-side store: a small Zendesk REST v2 client
// covering linked-ticket search, ticket and group reads, comment listing,
// batched custom field writes and private notes.
package zendesk

import (
	"encoding/json"
	"strconv"
	"time"
)

// Ticket is a Zendesk ticket. Besides the typed fields it keeps every
// top-level attribute of the payload so system fields can be read by name.
type Ticket struct {
	ID           int64         `json:"id"`
	Subject      string        `json:"subject"`
	Status       string        `json:"status"`
	GroupID      int64         `json:"group_id"`
	CustomFields []CustomField `json:"custom_fields"`

	attrs map[string]any
}

// UnmarshalJSON decodes the typed fields and retains the raw attributes.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	type plain Ticket
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return err
	}
	*t = Ticket(p)
	t.attrs = attrs
	return nil
}

// Attr returns a top-level ticket attribute (status, group_id, priority, ...).
func (t *Ticket) Attr(name string) (any, bool) {
	if t.attrs == nil {
		return nil, false
	}
	v, ok := t.attrs[name]
	return v, ok
}

// CustomField returns the value of the custom field with the given id.
// Ids are compared in their decimal text form.
func (t *Ticket) CustomField(id string) (any, bool) {
	for _, f := range t.CustomFields {
		if strconv.FormatInt(f.ID, 10) == id {
			return f.Value, true
		}
	}
	return nil, false
}

// CustomField is one entry of a ticket's custom_fields array.
type CustomField struct {
	ID    int64 `json:"id"`
	Value any   `json:"value"`
}

// Group is a Zendesk agent group.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Comment is a ticket comment. HTMLBody is where mirrored notes carry their
// source marker.
type Comment struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	HTMLBody  string    `json:"html_body"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
}
