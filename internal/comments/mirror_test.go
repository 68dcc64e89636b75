package comments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zxperience/deskbridge/internal/jira"
	"github.com/zxperience/deskbridge/internal/types"
	"github.com/zxperience/deskbridge/internal/zendesk"
)

type fakeTickets struct {
	comments []zendesk.Comment
	listErr  error
	addErr   map[string]error // keyed by a substring of the note
	added    []string
}

func (f *fakeTickets) ListComments(ctx context.Context, ticketID int64) ([]zendesk.Comment, error) {
	return f.comments, f.listErr
}

func (f *fakeTickets) AddPrivateComment(ctx context.Context, ticketID int64, html string) (int64, error) {
	for substr, err := range f.addErr {
		if strings.Contains(html, substr) {
			return 0, err
		}
	}
	f.added = append(f.added, html)
	f.comments = append(f.comments, zendesk.Comment{ID: int64(len(f.comments) + 1), HTMLBody: html})
	return ticketID, nil
}

type fakeIssues struct {
	comments []jira.Comment
	err      error
}

func (f *fakeIssues) ListComments(ctx context.Context, key string) ([]jira.Comment, error) {
	return f.comments, f.err
}

func textComment(id, author, text string) jira.Comment {
	return jira.Comment{
		ID:      id,
		Author:  &jira.User{DisplayName: author},
		Created: "2025-07-31T15:58:09.199-0300",
		Body: &jira.Node{Type: "doc", Version: 1, Content: []jira.Node{
			{Type: "paragraph", Content: []jira.Node{{Type: "text", Text: text}}},
		}},
	}
}

var (
	link   = &types.TenantLink{Name: "acme"}
	ticket = &zendesk.Ticket{ID: 42, Status: "open"}
	issue  = &jira.Issue{Key: "PROJ-1"}
)

func newMirror(tickets *fakeTickets, issues *fakeIssues) *Mirror {
	return NewMirror(tickets, issues, nil, Options{PublishMarker: "#zendesk", Location: time.UTC})
}

func TestRunMirrorsNewPublishedComments(t *testing.T) {
	tickets := &fakeTickets{}
	issues := &fakeIssues{comments: []jira.Comment{
		textComment("10001", "Ana", "Fixed in 1.2 #zendesk"),
		textComment("10002", "Bruno", "internal only"),
	}}

	stats, err := newMirror(tickets, issues).Run(context.Background(), link, ticket, issue)
	require.NoError(t, err)
	assert.Equal(t, Stats{Seen: 2, Mirrored: 1, Unpublished: 1}, stats)

	require.Len(t, tickets.added, 1)
	note := tickets.added[0]
	assert.Contains(t, note, "ID: 10001")
	assert.Contains(t, note, "<strong>Ana</strong>")
	assert.Contains(t, note, "31/07/2025 18:58:09")
	assert.Contains(t, note, "<p>Fixed in 1.2 #zendesk</p>")
}

func TestRunNeverForwardsTwice(t *testing.T) {
	tickets := &fakeTickets{comments: []zendesk.Comment{
		{ID: 1, HTMLBody: "<div><i>[Comment added from Jira. ID: 123]</i></div>"},
	}}
	issues := &fakeIssues{comments: []jira.Comment{
		textComment("123", "Ana", "old #zendesk"),
		textComment("124", "Ana", "new #zendesk"),
	}}
	m := newMirror(tickets, issues)

	for i := 0; i < 3; i++ {
		_, err := m.Run(context.Background(), link, ticket, issue)
		require.NoError(t, err)
	}

	require.Len(t, tickets.added, 1)
	assert.Contains(t, tickets.added[0], "ID: 124")

	stats, err := m.Run(context.Background(), link, ticket, issue)
	require.NoError(t, err)
	assert.Equal(t, Stats{AlreadyMirrored: 2}, stats)
}

func TestRunSkipsClosedTickets(t *testing.T) {
	tickets := &fakeTickets{}
	issues := &fakeIssues{comments: []jira.Comment{textComment("1", "Ana", "#zendesk")}}
	closed := &zendesk.Ticket{ID: 7, Status: "Closed"}

	stats, err := newMirror(tickets, issues).Run(context.Background(), link, closed, issue)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Empty(t, tickets.added)
}

func TestRunStopsWhenTicketCommentsUnavailable(t *testing.T) {
	tickets := &fakeTickets{listErr: errors.New("zendesk API returned 500: boom")}
	issues := &fakeIssues{comments: []jira.Comment{textComment("1", "Ana", "#zendesk")}}

	_, err := newMirror(tickets, issues).Run(context.Background(), link, ticket, issue)
	require.Error(t, err)
	assert.Empty(t, tickets.added)
}

func TestRunContinuesAfterForwardFailure(t *testing.T) {
	tickets := &fakeTickets{addErr: map[string]error{"ID: 1]": errors.New("zendesk API returned 422")}}
	issues := &fakeIssues{comments: []jira.Comment{
		textComment("1", "Ana", "first #zendesk"),
		textComment("2", "Ana", "second #zendesk"),
	}}

	stats, err := newMirror(tickets, issues).Run(context.Background(), link, ticket, issue)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Mirrored)
	require.Len(t, tickets.added, 1)
	assert.Contains(t, tickets.added[0], "ID: 2")
}

func TestRunUsesPartialJiraComments(t *testing.T) {
	tickets := &fakeTickets{}
	issues := &fakeIssues{
		comments: []jira.Comment{textComment("1", "Ana", "#zendesk")},
		err:      errors.New("page 2 failed"),
	}

	stats, err := newMirror(tickets, issues).Run(context.Background(), link, ticket, issue)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Mirrored)
}

func TestDryRunForwardsNothing(t *testing.T) {
	tickets := &fakeTickets{}
	issues := &fakeIssues{comments: []jira.Comment{textComment("1", "Ana", "#zendesk")}}
	m := NewMirror(tickets, issues, nil, Options{PublishMarker: "#zendesk", DryRun: true})

	stats, err := m.Run(context.Background(), link, ticket, issue)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Mirrored)
	assert.Empty(t, tickets.added)
}

func TestEmptyPublishMarkerForwardsEverything(t *testing.T) {
	tickets := &fakeTickets{}
	issues := &fakeIssues{comments: []jira.Comment{textComment("1", "Ana", "no marker here")}}
	m := NewMirror(tickets, issues, nil, Options{})

	stats, err := m.Run(context.Background(), link, ticket, issue)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Mirrored)
}

func TestRenderSanitizesAndEscapes(t *testing.T) {
	m := newMirror(&fakeTickets{}, &fakeIssues{})
	c := textComment("9", "<script>alert(1)</script>", "<img src=x onerror=alert(1)>")
	c.Created = "not a date"

	note := m.Render(&c)
	assert.NotContains(t, note, "<script>")
	assert.NotContains(t, note, "<img")
	assert.Contains(t, note, "ID: 9")
	assert.Contains(t, note, "not a date")
}

func TestRenderUnknownAuthor(t *testing.T) {
	m := newMirror(&fakeTickets{}, &fakeIssues{})
	c := textComment("9", "", "x")
	c.Author = nil
	assert.Contains(t, m.Render(&c), "<strong>Unknown</strong>")
}

func TestNewComments(t *testing.T) {
	source := []jira.Comment{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	existing := []zendesk.Comment{
		{HTMLBody: "[Comment added from Jira. ID: 2]"},
		{HTMLBody: "unrelated"},
	}
	got := NewComments(source, existing)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}
