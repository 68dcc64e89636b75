// Package comments mirrors Jira issue comments into the linked Zendesk
// ticket as private notes. Every note embeds a marker naming the source
// comment id; a comment whose marker is already present on the ticket is
// never forwarded again.
package comments

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zxperience/deskbridge/internal/jira"
	"github.com/zxperience/deskbridge/internal/telemetry"
	"github.com/zxperience/deskbridge/internal/types"
	"github.com/zxperience/deskbridge/internal/zendesk"
)

const scopeName = "github.com/zxperience/deskbridge/comments"

// Defaults for Options fields left empty.
const (
	DefaultPublishMarker = "#zendesk"
	DefaultClosedStatus  = "closed"
	timestampLayout      = "02/01/2006 15:04:05"
)

// TicketStore is the part of the Zendesk client the mirror needs.
type TicketStore interface {
	ListComments(ctx context.Context, ticketID int64) ([]zendesk.Comment, error)
	AddPrivateComment(ctx context.Context, ticketID int64, html string) (int64, error)
}

// IssueStore is the part of the Jira client the mirror needs.
type IssueStore interface {
	ListComments(ctx context.Context, key string) ([]jira.Comment, error)
}

// Options controls which comments are forwarded and how they are rendered.
type Options struct {
	// PublishMarker must appear in a comment for it to be forwarded.
	// An empty marker forwards every comment.
	PublishMarker string
	// ClosedStatuses lists ticket statuses that receive no notes.
	ClosedStatuses []string
	// Location is the zone comment timestamps are shown in.
	Location *time.Location
	DryRun   bool
}

// Stats counts comment outcomes for one pair.
type Stats struct {
	Seen            int `json:"seen"`
	AlreadyMirrored int `json:"already_mirrored"`
	Unpublished     int `json:"unpublished"`
	Mirrored        int `json:"mirrored"`
	Failed          int `json:"failed"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Seen += other.Seen
	s.AlreadyMirrored += other.AlreadyMirrored
	s.Unpublished += other.Unpublished
	s.Mirrored += other.Mirrored
	s.Failed += other.Failed
}

// Mirror forwards comments for the pairs of one tenant link.
type Mirror struct {
	Tickets TicketStore
	Issues  IssueStore
	Logger  *slog.Logger
	Options Options

	policy   *bluemonday.Policy
	mirrored telemetry.Counter
}

// NewMirror creates a mirror over the given stores.
func NewMirror(tickets TicketStore, issues IssueStore, logger *slog.Logger, opts Options) *Mirror {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ClosedStatuses == nil {
		opts.ClosedStatuses = []string{DefaultClosedStatus}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Mirror{
		Tickets:  tickets,
		Issues:   issues,
		Logger:   logger,
		Options:  opts,
		policy:   notePolicy(),
		mirrored: telemetry.NewCounter(telemetry.Meter(scopeName), "deskbridge.comments.mirrored", "Jira comments forwarded to Zendesk"),
	}
}

// notePolicy allows the markup produced by the ADF renderer and the note
// header, and nothing else.
func notePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowStyles("margin-bottom", "margin-top").OnElements("div")
	p.AllowStyles("background-color", "border-radius", "padding", "color", "text-decoration").OnElements("a")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Run mirrors the issue's new comments onto the ticket. The only error
// returned is a failure to list the ticket's comments, since without the
// full list already-mirrored comments cannot be recognized. Individual
// forwarding failures are logged and counted.
func (m *Mirror) Run(ctx context.Context, link *types.TenantLink, ticket *zendesk.Ticket, issue *jira.Issue) (Stats, error) {
	var stats Stats
	log := m.Logger.With("link", link.Name, "ticket", ticket.ID, "issue", issue.Key)

	if m.isClosed(ticket.Status) {
		log.Debug("ticket closed, not mirroring comments", "status", ticket.Status)
		return stats, nil
	}

	existing, err := m.Tickets.ListComments(ctx, ticket.ID)
	if err != nil {
		return stats, fmt.Errorf("list comments of ticket %d: %w", ticket.ID, err)
	}

	source, err := m.Issues.ListComments(ctx, issue.Key)
	if err != nil {
		log.Warn("jira comments incomplete, mirroring what was fetched", "fetched", len(source), "error", err)
	}

	for _, c := range NewComments(source, existing) {
		stats.Seen++
		clog := log.With("comment", c.ID)

		note := m.Render(&c)
		if !m.published(note) {
			clog.Debug("comment lacks publish marker, skipping")
			stats.Unpublished++
			continue
		}

		if m.Options.DryRun {
			clog.Info("dry run: would add private note")
			stats.Mirrored++
			continue
		}
		if _, err := m.Tickets.AddPrivateComment(ctx, ticket.ID, note); err != nil {
			clog.Error("add private note failed", "error", err)
			stats.Failed++
			continue
		}
		clog.Info("comment mirrored")
		stats.Mirrored++
		m.mirrored.Add(ctx, 1, attribute.String("link", link.Name))
	}
	stats.AlreadyMirrored = len(source) - stats.Seen
	return stats, nil
}

// NewComments returns the source comments whose marker appears in none of
// the existing ticket comments.
func NewComments(source []jira.Comment, existing []zendesk.Comment) []jira.Comment {
	var out []jira.Comment
	for _, c := range source {
		marker := types.CommentMarker(c.ID)
		seen := false
		for _, z := range existing {
			if strings.Contains(z.HTMLBody, marker) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, c)
		}
	}
	return out
}

// Render builds the sanitized HTML note for a comment: a header carrying
// the marker, author and timestamp, followed by the rendered body.
func (m *Mirror) Render(c *jira.Comment) string {
	created := c.Created
	if ts, err := jira.ParseTimestamp(c.Created); err == nil {
		created = ts.In(m.Options.Location).Format(timestampLayout)
	}

	raw := fmt.Sprintf(`<div style="margin-bottom: 1em;">`+
		`<i>[Comment added from Jira. %s]</i><br>`+
		`<strong>By:</strong> <strong>%s</strong> <small>(%s)</small>`+
		`<div style="margin-top: 0.5em;">%s</div></div>`,
		html.EscapeString(types.CommentMarker(c.ID)),
		html.EscapeString(c.AuthorName()),
		html.EscapeString(created),
		jira.RenderHTML(c.Body))

	return m.policy.Sanitize(raw)
}

func (m *Mirror) published(note string) bool {
	marker := m.Options.PublishMarker
	return marker == "" || strings.Contains(note, marker)
}

func (m *Mirror) isClosed(status string) bool {
	for _, s := range m.Options.ClosedStatuses {
		if strings.EqualFold(s, status) {
			return true
		}
	}
	return false
}
