// Package fieldsync reconciles mapped fields between a linked Zendesk ticket
// and Jira issue, one direction at a time.
//
// Each field goes through the same steps: read the source value, read the
// target value, compare, and only when they differ transform the source
// and compare again before writing. A field that fails is logged and
// counted; it never stops the other fields of the pair.
package fieldsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zxperience/deskbridge/internal/jira"
	"github.com/zxperience/deskbridge/internal/telemetry"
	"github.com/zxperience/deskbridge/internal/transform"
	"github.com/zxperience/deskbridge/internal/types"
	"github.com/zxperience/deskbridge/internal/zendesk"
)

const scopeName = "github.com/zxperience/deskbridge/fieldsync"

// groupField is the one ticket attribute resolved through a lookup: its id
// is replaced by the group's name.
const groupField = "group_id"

// DefaultFanout bounds the fields of one pair processed at once.
const DefaultFanout = 8

// TicketStore is the part of the Zendesk client the engine needs.
type TicketStore interface {
	GetGroup(ctx context.Context, id int64) (*zendesk.Group, error)
	UpdateCustomFields(ctx context.Context, ticketID int64, fields []zendesk.CustomField) ([]zendesk.CustomField, error)
}

// IssueStore is the part of the Jira client the engine needs.
type IssueStore interface {
	UpdateField(ctx context.Context, key, fieldID string, value any, valueProperty string) error
}

// Engine syncs fields for the pairs of one tenant link.
type Engine struct {
	Tickets   TicketStore
	Issues    IssueStore
	Logger    *slog.Logger
	Transform transform.Options
	Fanout    int
	// DryRun logs intended writes without issuing them.
	DryRun bool

	updated telemetry.Counter
	failed  telemetry.Counter
}

// NewEngine creates an engine over the given stores.
func NewEngine(tickets TicketStore, issues IssueStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := telemetry.Meter(scopeName)
	return &Engine{
		Tickets: tickets,
		Issues:  issues,
		Logger:  logger,
		Fanout:  DefaultFanout,
		updated: telemetry.NewCounter(m, "deskbridge.fields.updated", "Fields written to the target system"),
		failed:  telemetry.NewCounter(m, "deskbridge.fields.failed", "Fields that could not be synced"),
	}
}

// SyncToIssue copies the link's Zendesk-to-Jira fields from ticket to
// issue. Fields are processed concurrently and written one call each.
//
// Written values (dry run included) are stored back into issue.Fields once
// every field is done, so a following SyncToTicket on the same issue sees
// what Jira now holds.
func (e *Engine) SyncToIssue(ctx context.Context, link *types.TenantLink, ticket *zendesk.Ticket, issue *jira.Issue) Stats {
	var (
		mu      sync.Mutex
		stats   Stats
		written = make(map[string]any)
	)

	g := new(errgroup.Group)
	g.SetLimit(e.fanout())
	for _, m := range link.ToIssue {
		g.Go(func() error {
			o, value := e.syncFieldToIssue(ctx, link, ticket, issue, m)
			mu.Lock()
			stats.record(o)
			if o == outcomeUpdated {
				written[m.JiraFieldID] = jira.NestValue(value, m.ValueProperty)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(written) > 0 && issue.Fields == nil {
		issue.Fields = make(map[string]any, len(written))
	}
	for id, v := range written {
		issue.Fields[id] = v
	}
	return stats
}

// syncFieldToIssue returns the value it wrote when the outcome is
// outcomeUpdated.
func (e *Engine) syncFieldToIssue(ctx context.Context, link *types.TenantLink, ticket *zendesk.Ticket, issue *jira.Issue, m types.FieldMapping) (outcome, any) {
	log := e.fieldLogger(link, ticket, issue, m, types.ToIssue)

	src, ok, err := e.ticketValue(ctx, ticket, m)
	if err != nil {
		log.Error("read ticket field failed", "error", err)
		e.failed.Add(ctx, 1, attribute.String("direction", string(types.ToIssue)))
		return outcomeFailed, nil
	}
	if !ok {
		log.Debug("field not present on ticket, skipping")
		return outcomeSkipped, nil
	}

	raw, _ := issue.Field(m.JiraFieldID)
	cur := project(raw, m.ValueProperty)
	if transform.Equivalent(src, cur) {
		return outcomeUnchanged, nil
	}

	want := transform.Apply(m, types.ToIssue, src, e.Transform)
	if transform.Equivalent(want, cur) {
		return outcomeUnchanged, nil
	}

	if e.DryRun {
		log.Info("dry run: would update issue field", "value", want, "current", cur)
		return outcomeUpdated, want
	}
	if err := e.Issues.UpdateField(ctx, issue.Key, m.JiraFieldID, want, m.ValueProperty); err != nil {
		log.Error("update issue field failed", "value", want, "error", err)
		e.failed.Add(ctx, 1, attribute.String("direction", string(types.ToIssue)))
		return outcomeFailed, nil
	}
	log.Info("issue field updated", "value", want)
	e.updated.Add(ctx, 1, attribute.String("direction", string(types.ToIssue)))
	return outcomeUpdated, want
}

// ticketValue reads a mapping's source value from the ticket. ok is false
// when a custom field is not part of the ticket.
func (e *Engine) ticketValue(ctx context.Context, ticket *zendesk.Ticket, m types.FieldMapping) (any, bool, error) {
	if !m.ZendeskSystemField {
		v, ok := ticket.CustomField(m.ZendeskFieldID)
		return v, ok, nil
	}

	v, _ := ticket.Attr(m.ZendeskFieldID)
	v = project(v, m.ZendeskValueProperty)
	if m.ZendeskFieldID != groupField || v == nil {
		return v, true, nil
	}

	id, err := toInt64(v)
	if err != nil {
		return nil, false, fmt.Errorf("group id %v: %w", v, err)
	}
	group, err := e.Tickets.GetGroup(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return group.Name, true, nil
}

// SyncToTicket copies the link's Jira-to-Zendesk fields from issue to
// ticket. All changed fields are written in a single batch.
func (e *Engine) SyncToTicket(ctx context.Context, link *types.TenantLink, ticket *zendesk.Ticket, issue *jira.Issue) Stats {
	var stats Stats

	type change struct {
		mapping types.FieldMapping
		field   zendesk.CustomField
	}
	var changes []change

	for _, m := range link.ToTicket {
		log := e.fieldLogger(link, ticket, issue, m, types.ToTicket)

		raw, ok := issue.Field(m.JiraFieldID)
		if !ok {
			log.Debug("field not present on issue, skipping")
			stats.record(outcomeSkipped)
			continue
		}
		src := issueValue(raw, m)
		cur, _ := ticket.CustomField(m.ZendeskFieldID)
		if transform.Equivalent(src, cur) {
			stats.record(outcomeUnchanged)
			continue
		}

		want := transform.Apply(m, types.ToTicket, src, e.Transform)
		if transform.Equivalent(want, cur) {
			stats.record(outcomeUnchanged)
			continue
		}

		id, err := strconv.ParseInt(m.ZendeskFieldID, 10, 64)
		if err != nil {
			log.Error("invalid zendesk custom field id", "value", want, "error", err)
			e.failed.Add(ctx, 1, attribute.String("direction", string(types.ToTicket)))
			stats.record(outcomeFailed)
			continue
		}
		changes = append(changes, change{mapping: m, field: zendesk.CustomField{ID: id, Value: want}})
	}

	if len(changes) == 0 {
		return stats
	}

	fields := make([]zendesk.CustomField, len(changes))
	for i, c := range changes {
		fields[i] = c.field
	}

	if e.DryRun {
		for _, c := range changes {
			e.fieldLogger(link, ticket, issue, c.mapping, types.ToTicket).
				Info("dry run: would update ticket field", "value", c.field.Value)
			stats.record(outcomeUpdated)
		}
		return stats
	}

	result, err := e.Tickets.UpdateCustomFields(ctx, ticket.ID, fields)
	if err != nil {
		for _, c := range changes {
			e.fieldLogger(link, ticket, issue, c.mapping, types.ToTicket).
				Error("update ticket field failed", "value", c.field.Value, "error", err)
			stats.record(outcomeFailed)
		}
		e.failed.Add(ctx, int64(len(changes)), attribute.String("direction", string(types.ToTicket)))
		return stats
	}

	for i, c := range changes {
		log := e.fieldLogger(link, ticket, issue, c.mapping, types.ToTicket)
		if i < len(result) && !transform.Equivalent(result[i].Value, c.field.Value) {
			log.Warn("ticket field holds a different value after update", "value", c.field.Value, "result", result[i].Value)
		} else {
			log.Info("ticket field updated", "value", c.field.Value)
		}
		stats.record(outcomeUpdated)
	}
	e.updated.Add(ctx, int64(len(changes)), attribute.String("direction", string(types.ToTicket)))
	return stats
}

// issueValue reads a mapping's source value from a Jira field. System
// fields are projected through ValueProperty (default "name") and arrays
// are joined into one comma-separated string.
func issueValue(raw any, m types.FieldMapping) any {
	if !m.JiraSystemField {
		return project(raw, m.ValueProperty)
	}
	prop := m.ValueProperty
	if prop == "" {
		prop = "name"
	}
	v := project(raw, prop)
	items, ok := v.([]any)
	if !ok {
		return v
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item != nil {
			parts = append(parts, fmt.Sprint(item))
		}
	}
	return strings.Join(parts, ", ")
}

// project replaces objects by their property and arrays by the property
// of each element. An empty property leaves v unchanged.
func project(v any, prop string) any {
	if prop == "" {
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		return val[prop]
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, obj[prop])
			} else {
				out = append(out, item)
			}
		}
		return out
	}
	return v
}

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case float64:
		return int64(val), nil
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

func (e *Engine) fieldLogger(link *types.TenantLink, ticket *zendesk.Ticket, issue *jira.Issue, m types.FieldMapping, dir types.Direction) *slog.Logger {
	return e.Logger.With(
		"link", link.Name,
		"ticket", ticket.ID,
		"issue", issue.Key,
		"direction", string(dir),
		"source_field", m.SourceID(dir),
		"target_field", m.TargetID(dir),
	)
}

func (e *Engine) fanout() int {
	if e.Fanout > 0 {
		return e.Fanout
	}
	return DefaultFanout
}
