// Package reconcile drives a full sync cycle: for every tenant link it
// finds the linked tickets, resolves their Jira keys, and for each pair
// runs field sync in both directions followed by the comment mirror.
//
// Work fans out at three levels (links, tickets, keys). Each level waits
// for all of its children; a failure is recorded and never cancels
// siblings.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zxperience/deskbridge/internal/comments"
	"github.com/zxperience/deskbridge/internal/fieldsync"
	"github.com/zxperience/deskbridge/internal/jira"
	"github.com/zxperience/deskbridge/internal/telemetry"
	"github.com/zxperience/deskbridge/internal/transform"
	"github.com/zxperience/deskbridge/internal/types"
	"github.com/zxperience/deskbridge/internal/zendesk"
)

const scopeName = "github.com/zxperience/deskbridge/reconcile"

// TicketStore is everything a run needs from one Zendesk tenant.
type TicketStore interface {
	SearchLinkedTickets(ctx context.Context, fieldID string) ([]zendesk.Ticket, error)
	fieldsync.TicketStore
	comments.TicketStore
}

// IssueStore is everything a run needs from one Jira tenant.
type IssueStore interface {
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
	fieldsync.IssueStore
	comments.IssueStore
}

// ConnectFunc returns the stores for a link.
type ConnectFunc func(link *types.TenantLink) (TicketStore, IssueStore, error)

// Options configures a run.
type Options struct {
	// Links restricts the run to the named links. Empty means all.
	Links     []string
	DryRun    bool
	Fanout    int
	Transform transform.Options
	Comments  comments.Options
}

// Engine runs sync cycles over a fixed set of links.
type Engine struct {
	Links   []types.TenantLink
	Connect ConnectFunc
	Logger  *slog.Logger
	Options Options

	tracer trace.Tracer
}

// NewEngine creates an engine.
func NewEngine(links []types.TenantLink, connect ConnectFunc, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		Links:   links,
		Connect: connect,
		Logger:  logger,
		Options: opts,
		tracer:  telemetry.Tracer(scopeName),
	}
}

// Run performs one complete cycle. It returns an error only when there is
// nothing to run; every other failure is logged and counted in the result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	links, err := e.selectLinks()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "reconcile.run",
		trace.WithAttributes(attribute.Int("deskbridge.links", len(links))))
	defer span.End()

	results := make([]LinkResult, len(links))
	g := new(errgroup.Group)
	g.SetLimit(e.fanout())
	for i := range links {
		g.Go(func() error {
			results[i] = e.runLink(ctx, &links[i])
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{
		LastSync: start.UTC().Format(time.RFC3339),
		Duration: time.Since(start).Round(time.Millisecond).String(),
		DryRun:   e.Options.DryRun,
		Links:    results,
	}
	for _, lr := range results {
		result.Stats.Add(lr.Stats)
	}
	result.Success = result.Stats.Failures() == 0
	if !result.Success {
		span.SetStatus(codes.Error, fmt.Sprintf("%d failures", result.Stats.Failures()))
	}

	e.Logger.Info("sync cycle finished",
		"links", len(links),
		"tickets", result.Stats.Tickets,
		"issues", result.Stats.Issues,
		"fields_updated", result.Stats.ToIssue.Updated+result.Stats.ToTicket.Updated,
		"comments_mirrored", result.Stats.Comments.Mirrored,
		"failures", result.Stats.Failures(),
		"duration", result.Duration)
	return result, nil
}

func (e *Engine) selectLinks() ([]types.TenantLink, error) {
	if len(e.Links) == 0 {
		return nil, fmt.Errorf("no links configured")
	}
	if len(e.Options.Links) == 0 {
		return e.Links, nil
	}
	want := make(map[string]bool, len(e.Options.Links))
	for _, name := range e.Options.Links {
		want[name] = true
	}
	var out []types.TenantLink
	for _, l := range e.Links {
		if want[l.Name] {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no configured link matches %s", strings.Join(e.Options.Links, ", "))
	}
	return out, nil
}

// linkRun carries the per-link collaborators and the shared result.
type linkRun struct {
	link    *types.TenantLink
	tickets TicketStore
	issues  IssueStore
	fields  *fieldsync.Engine
	mirror  *comments.Mirror
	log     *slog.Logger

	mu     sync.Mutex
	result LinkResult
}

func (r *linkRun) fail(stats Stats, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Stats.Add(stats)
	r.result.Stats.Errors++
	r.result.Errors = append(r.result.Errors, fmt.Sprintf(format, args...))
}

func (r *linkRun) add(stats Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Stats.Add(stats)
}

func (e *Engine) runLink(ctx context.Context, link *types.TenantLink) LinkResult {
	log := e.Logger.With("link", link.Name)
	run := &linkRun{link: link, log: log, result: LinkResult{Name: link.Name}}

	tickets, issues, err := e.Connect(link)
	if err != nil {
		log.Error("connect failed", "error", err)
		run.fail(Stats{}, "connect: %v", err)
		return run.result
	}
	run.tickets, run.issues = tickets, issues

	run.fields = fieldsync.NewEngine(tickets, issues, log)
	run.fields.DryRun = e.Options.DryRun
	run.fields.Transform = e.Options.Transform
	run.fields.Fanout = e.fanout()

	mirrorOpts := e.Options.Comments
	mirrorOpts.DryRun = e.Options.DryRun
	run.mirror = comments.NewMirror(tickets, issues, log, mirrorOpts)

	found, err := tickets.SearchLinkedTickets(ctx, link.LinkedFieldID)
	if err != nil {
		log.Warn("linked ticket search incomplete", "found", len(found), "error", err)
		run.fail(Stats{}, "search linked tickets: %v", err)
	}
	log.Info("linked tickets found", "count", len(found))
	run.add(Stats{Tickets: len(found)})

	g := new(errgroup.Group)
	g.SetLimit(e.fanout())
	for i := range found {
		g.Go(func() error {
			e.runTicket(ctx, run, &found[i])
			return nil
		})
	}
	_ = g.Wait()

	return run.result
}

func (e *Engine) runTicket(ctx context.Context, run *linkRun, ticket *zendesk.Ticket) {
	ctx, span := e.tracer.Start(ctx, "reconcile.ticket", trace.WithAttributes(
		attribute.String("deskbridge.link", run.link.Name),
		attribute.Int64("deskbridge.ticket", ticket.ID)))
	defer span.End()

	raw, _ := ticket.CustomField(run.link.LinkedFieldID)
	keys := ParseKeys(raw)
	if len(keys) == 0 {
		run.log.Debug("ticket has no linked keys", "ticket", ticket.ID)
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(e.fanout())
	for _, key := range keys {
		g.Go(func() error {
			e.runPair(ctx, run, ticket, key)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) runPair(ctx context.Context, run *linkRun, ticket *zendesk.Ticket, key string) {
	log := run.log.With("ticket", ticket.ID, "issue", key)

	issue, err := run.issues.GetIssue(ctx, key)
	if err != nil {
		log.Error("fetch issue failed", "error", err)
		run.fail(Stats{}, "ticket %d issue %s: %v", ticket.ID, key, err)
		return
	}
	log.Debug("reconciling pair", "url", issue.BrowseURL())

	stats := Stats{Issues: 1}
	stats.ToIssue = run.fields.SyncToIssue(ctx, run.link, ticket, issue)
	stats.ToTicket = run.fields.SyncToTicket(ctx, run.link, ticket, issue)

	cs, err := run.mirror.Run(ctx, run.link, ticket, issue)
	stats.Comments = cs
	if err != nil {
		log.Error("comment mirror failed", "error", err)
		run.fail(stats, "ticket %d issue %s comments: %v", ticket.ID, key, err)
		return
	}
	run.add(stats)
}

func (e *Engine) fanout() int {
	if e.Options.Fanout > 0 {
		return e.Options.Fanout
	}
	return fieldsync.DefaultFanout
}

// ParseKeys reads the linked-issue field: all whitespace is removed, the
// rest is split on commas, and empty or repeated keys are dropped.
func ParseKeys(v any) []string {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	s = strings.Join(strings.Fields(s), "")

	var keys []string
	seen := make(map[string]bool)
	for _, k := range strings.Split(s, ",") {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}
