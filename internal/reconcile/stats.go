package reconcile

import (
	"github.com/zxperience/deskbridge/internal/comments"
	"github.com/zxperience/deskbridge/internal/fieldsync"
)

// Stats tracks what one run (or one link of a run) did.
type Stats struct {
	Tickets  int             `json:"tickets"`         // Linked tickets found
	Issues   int             `json:"issues"`          // Linked issues reconciled
	ToIssue  fieldsync.Stats `json:"zendesk_to_jira"` // Field outcomes, ticket to issue
	ToTicket fieldsync.Stats `json:"jira_to_zendesk"` // Field outcomes, issue to ticket
	Comments comments.Stats  `json:"comments"`        // Comment mirror outcomes
	Errors   int             `json:"errors"`          // Record-level failures (search, issue fetch, comment listing)
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Tickets += other.Tickets
	s.Issues += other.Issues
	s.ToIssue.Add(other.ToIssue)
	s.ToTicket.Add(other.ToTicket)
	s.Comments.Add(other.Comments)
	s.Errors += other.Errors
}

// Failures counts every failure recorded, at any level.
func (s *Stats) Failures() int {
	return s.Errors + s.ToIssue.Failed + s.ToTicket.Failed + s.Comments.Failed
}

// LinkResult is the outcome of one tenant link.
type LinkResult struct {
	Name   string   `json:"name"`
	Stats  Stats    `json:"stats"`
	Errors []string `json:"errors,omitempty"`
}

// Result represents the result of a complete run.
type Result struct {
	Success  bool         `json:"success"`   // No failure at any level
	LastSync string       `json:"last_sync"` // Start of this run (RFC3339)
	Duration string       `json:"duration"`
	DryRun   bool         `json:"dry_run,omitempty"`
	Stats    Stats        `json:"stats"`
	Links    []LinkResult `json:"links"`
}
