package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zxperience/deskbridge/internal/jira"
	"github.com/zxperience/deskbridge/internal/types"
	"github.com/zxperience/deskbridge/internal/zendesk"
)

type fakeTickets struct {
	mu      sync.Mutex
	ticket  *zendesk.Ticket
	groups  map[int64]string
	batches [][]zendesk.CustomField
	err     error
}

func (f *fakeTickets) GetGroup(ctx context.Context, id int64) (*zendesk.Group, error) {
	name, ok := f.groups[id]
	if !ok {
		return nil, errors.New("group not found")
	}
	return &zendesk.Group{ID: id, Name: name}, nil
}

func (f *fakeTickets) UpdateCustomFields(ctx context.Context, ticketID int64, fields []zendesk.CustomField) ([]zendesk.CustomField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, fields)
	for _, nf := range fields {
		replaced := false
		for i := range f.ticket.CustomFields {
			if f.ticket.CustomFields[i].ID == nf.ID {
				f.ticket.CustomFields[i].Value = nf.Value
				replaced = true
			}
		}
		if !replaced {
			f.ticket.CustomFields = append(f.ticket.CustomFields, nf)
		}
	}
	return fields, nil
}

type fakeIssues struct {
	mu     sync.Mutex
	issue  *jira.Issue
	writes map[string]any
	fail   map[string]bool
}

func (f *fakeIssues) UpdateField(ctx context.Context, key, fieldID string, value any, valueProperty string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[fieldID] {
		return errors.New("jira API returned 400: field not editable")
	}
	if f.writes == nil {
		f.writes = make(map[string]any)
	}
	f.writes[fieldID] = jira.NestValue(value, valueProperty)
	return nil
}

// apply copies recorded writes into the issue, as Jira would show them on
// the next read.
func (f *fakeIssues) apply() {
	for k, v := range f.writes {
		f.issue.Fields[k] = v
	}
	f.writes = nil
}

func ticketFromJSON(t *testing.T, raw string) *zendesk.Ticket {
	t.Helper()
	var ticket zendesk.Ticket
	require.NoError(t, json.Unmarshal([]byte(raw), &ticket))
	return &ticket
}

func issueFromJSON(t *testing.T, raw string) *jira.Issue {
	t.Helper()
	var issue jira.Issue
	require.NoError(t, json.Unmarshal([]byte(raw), &issue))
	return &issue
}

const sampleTicket = `{
	"id": 42,
	"status": "open",
	"priority": "high",
	"group_id": 77,
	"via": {"channel": "email"},
	"custom_fields": [
		{"id": 100, "value": "Aberto"},
		{"id": 101, "value": "2025-07-31"},
		{"id": 102, "value": "Long description"},
		{"id": 200, "value": null},
		{"id": 201, "value": "Open"}
	]
}`

const sampleIssue = `{
	"id": "10001",
	"key": "PROJ-1",
	"self": "https://acme.atlassian.net/rest/api/3/issue/10001",
	"fields": {
		"status": {"name": "In Progress"},
		"fixVersions": [{"name": "1.2"}, {"name": "1.3"}],
		"priority": {"name": "Low"},
		"customfield_1": null,
		"customfield_2": null,
		"customfield_3": null,
		"customfield_4": null,
		"customfield_5": null,
		"customfield_6": "Open"
	}
}`

func toIssueLink() *types.TenantLink {
	return &types.TenantLink{
		Name:          "acme",
		LinkedFieldID: "999",
		ToIssue: []types.FieldMapping{
			{ZendeskFieldID: "100", JiraFieldID: "customfield_1", ValueMap: []types.ValueMapEntry{{From: "Aberto", To: "Open"}}},
			{ZendeskFieldID: "101", JiraFieldID: "customfield_2", IsDate: true},
			{ZendeskFieldID: "102", JiraFieldID: "customfield_3", IsDocument: true},
			{ZendeskFieldID: "group_id", JiraFieldID: "customfield_4", ZendeskSystemField: true, NeedUnderline: true},
			{ZendeskFieldID: "priority", JiraFieldID: "priority", ZendeskSystemField: true, ValueProperty: "name", ValueMap: []types.ValueMapEntry{{From: "high", To: "High"}}},
			{ZendeskFieldID: "via", JiraFieldID: "customfield_5", ZendeskSystemField: true, ZendeskValueProperty: "channel", IsArray: true},
			{ZendeskFieldID: "404", JiraFieldID: "customfield_7"},
		},
	}
}

func TestSyncToIssueWritesChangedFields(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	tickets := &fakeTickets{ticket: ticket, groups: map[int64]string{77: "Tier 2"}}
	issues := &fakeIssues{issue: issue}

	e := NewEngine(tickets, issues, nil)
	stats := e.SyncToIssue(context.Background(), toIssueLink(), ticket, issue)

	assert.Equal(t, Stats{Checked: 7, Updated: 6, Skipped: 1}, stats)
	assert.Equal(t, "Open", issues.writes["customfield_1"])
	assert.Equal(t, "2025-07-31T00:00:00.000-0300", issues.writes["customfield_2"])
	assert.Equal(t, jira.TextDocument("Long description"), issues.writes["customfield_3"])
	assert.Equal(t, "Tier_2", issues.writes["customfield_4"])
	assert.Equal(t, map[string]any{"name": "High"}, issues.writes["priority"])
	assert.Equal(t, []any{"email"}, issues.writes["customfield_5"])
	assert.NotContains(t, issues.writes, "customfield_7")
}

func TestSyncToIssueIsIdempotent(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	tickets := &fakeTickets{ticket: ticket, groups: map[int64]string{77: "Tier 2"}}
	issues := &fakeIssues{issue: issue}
	e := NewEngine(tickets, issues, nil)
	link := toIssueLink()

	first := e.SyncToIssue(context.Background(), link, ticket, issue)
	require.Equal(t, 6, first.Updated)

	issues.apply()
	second := e.SyncToIssue(context.Background(), link, ticket, issue)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 6, second.Unchanged)
	assert.Empty(t, issues.writes)
}

func TestSyncToIssueIsolatesFailures(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	tickets := &fakeTickets{ticket: ticket} // group lookup fails
	issues := &fakeIssues{issue: issue, fail: map[string]bool{"customfield_1": true}}

	e := NewEngine(tickets, issues, nil)
	stats := e.SyncToIssue(context.Background(), toIssueLink(), ticket, issue)

	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 4, stats.Updated)
	assert.Contains(t, issues.writes, "customfield_2")
	assert.Contains(t, issues.writes, "priority")
}

func TestSyncToIssueDryRun(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	issues := &fakeIssues{issue: issue}
	e := NewEngine(&fakeTickets{ticket: ticket, groups: map[int64]string{77: "Ops"}}, issues, nil)
	e.DryRun = true

	stats := e.SyncToIssue(context.Background(), toIssueLink(), ticket, issue)
	assert.Equal(t, 6, stats.Updated)
	assert.Empty(t, issues.writes)
}

func toTicketLink() *types.TenantLink {
	return &types.TenantLink{
		Name:          "acme",
		LinkedFieldID: "999",
		ToTicket: []types.FieldMapping{
			{JiraFieldID: "status", ZendeskFieldID: "200", JiraSystemField: true},
			{JiraFieldID: "fixVersions", ZendeskFieldID: "202", JiraSystemField: true},
			{JiraFieldID: "customfield_6", ZendeskFieldID: "201"},
			{JiraFieldID: "customfield_missing", ZendeskFieldID: "203"},
		},
	}
}

func TestSyncToTicketBatchesChanges(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	tickets := &fakeTickets{ticket: ticket}

	e := NewEngine(tickets, &fakeIssues{issue: issue}, nil)
	stats := e.SyncToTicket(context.Background(), toTicketLink(), ticket, issue)

	assert.Equal(t, Stats{Checked: 4, Updated: 2, Unchanged: 1, Skipped: 1}, stats)
	require.Len(t, tickets.batches, 1)
	assert.Equal(t, []zendesk.CustomField{
		{ID: 200, Value: "In Progress"},
		{ID: 202, Value: "1.2, 1.3"},
	}, tickets.batches[0])

	again := e.SyncToTicket(context.Background(), toTicketLink(), ticket, issue)
	assert.Equal(t, 0, again.Updated)
	assert.Len(t, tickets.batches, 1)
}

func TestSyncToTicketIsIdempotent(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	tickets := &fakeTickets{ticket: ticket}
	e := NewEngine(tickets, &fakeIssues{issue: issue}, nil)
	link := toTicketLink()

	first := e.SyncToTicket(context.Background(), link, ticket, issue)
	require.Equal(t, 2, first.Updated)
	require.Len(t, tickets.batches, 1)

	second := e.SyncToTicket(context.Background(), link, ticket, issue)
	assert.Equal(t, Stats{Checked: 4, Unchanged: 3, Skipped: 1}, second)
	assert.Len(t, tickets.batches, 1)
}

func bothWaysLink() *types.TenantLink {
	return &types.TenantLink{
		Name:          "acme",
		LinkedFieldID: "999",
		ToIssue:       []types.FieldMapping{{ZendeskFieldID: "201", JiraFieldID: "customfield_6"}},
		ToTicket:      []types.FieldMapping{{JiraFieldID: "customfield_6", ZendeskFieldID: "201"}},
	}
}

func TestFieldMappedBothWaysSettles(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	require.NoError(t, json.Unmarshal([]byte(`[{"id": 201, "value": "Closed"}]`), &ticket.CustomFields))
	tickets := &fakeTickets{ticket: ticket}
	issues := &fakeIssues{issue: issue}
	e := NewEngine(tickets, issues, nil)
	link := bothWaysLink()

	toIssue := e.SyncToIssue(context.Background(), link, ticket, issue)
	toTicket := e.SyncToTicket(context.Background(), link, ticket, issue)
	assert.Equal(t, 1, toIssue.Updated)
	assert.Equal(t, 1, toTicket.Unchanged)
	assert.Empty(t, tickets.batches)
	assert.Equal(t, "Closed", issues.writes["customfield_6"])

	issues.apply()
	toIssue = e.SyncToIssue(context.Background(), link, ticket, issue)
	toTicket = e.SyncToTicket(context.Background(), link, ticket, issue)
	assert.Equal(t, 0, toIssue.Updated)
	assert.Equal(t, 0, toTicket.Updated)
	assert.Empty(t, issues.writes)
	assert.Empty(t, tickets.batches)
	v, _ := ticket.CustomField("201")
	assert.Equal(t, "Closed", v)
}

func TestSyncToIssueDryRunUpdatesSnapshot(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	tickets := &fakeTickets{ticket: ticket, groups: map[int64]string{77: "Ops"}}
	e := NewEngine(tickets, &fakeIssues{issue: issue}, nil)
	e.DryRun = true

	e.SyncToIssue(context.Background(), toIssueLink(), ticket, issue)
	assert.Equal(t, "Open", issue.Fields["customfield_1"])
	assert.Equal(t, map[string]any{"name": "High"}, issue.Fields["priority"])
	assert.Nil(t, issue.Fields["customfield_7"])
}

func TestSyncToTicketBatchFailureCountsEachField(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	tickets := &fakeTickets{ticket: ticket, err: errors.New("zendesk API returned 422: invalid")}

	e := NewEngine(tickets, &fakeIssues{issue: issue}, nil)
	stats := e.SyncToTicket(context.Background(), toTicketLink(), ticket, issue)

	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 0, stats.Updated)
}

func TestSyncToTicketRejectsNonNumericFieldID(t *testing.T) {
	ticket := ticketFromJSON(t, sampleTicket)
	issue := issueFromJSON(t, sampleIssue)
	link := &types.TenantLink{Name: "acme", ToTicket: []types.FieldMapping{
		{JiraFieldID: "status", ZendeskFieldID: "status", JiraSystemField: true},
	}}

	tickets := &fakeTickets{ticket: ticket}
	stats := NewEngine(tickets, &fakeIssues{issue: issue}, nil).SyncToTicket(context.Background(), link, ticket, issue)
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, tickets.batches)
}

func TestIssueValue(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		m    types.FieldMapping
		want any
	}{
		{"system object default name", map[string]any{"name": "Done", "id": "3"}, types.FieldMapping{JiraSystemField: true}, "Done"},
		{"system object property", map[string]any{"name": "Done", "id": "3"}, types.FieldMapping{JiraSystemField: true, ValueProperty: "id"}, "3"},
		{"system array joined", []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}, types.FieldMapping{JiraSystemField: true}, "a, b"},
		{"system empty array", []any{}, types.FieldMapping{JiraSystemField: true}, ""},
		{"custom raw", "x", types.FieldMapping{}, "x"},
		{"custom property", map[string]any{"value": "Gold"}, types.FieldMapping{ValueProperty: "value"}, "Gold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, issueValue(tt.raw, tt.m))
		})
	}
}

func TestStatsAdd(t *testing.T) {
	s := Stats{Checked: 1, Updated: 1}
	s.Add(Stats{Checked: 2, Failed: 1, Skipped: 1})
	assert.Equal(t, Stats{Checked: 3, Updated: 1, Failed: 1, Skipped: 1}, s)
}
