package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zxperience/deskbridge/internal/testutil"
)

// executeCommand runs the root command with args and returns stdout. Flag
// values persist between cobra executions, so local flags are reset first.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verboseFlag, jsonOutput = false, false
	for _, c := range []*cobra.Command{runCmd, daemonCmd, renderCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				_ = sv.Replace(nil)
			} else {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

type fixture struct {
	zendesk *testutil.MockServer
	jira    *testutil.MockServer
	config  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{zendesk: testutil.NewMockServer(), jira: testutil.NewMockServer()}
	t.Cleanup(f.zendesk.Close)
	t.Cleanup(f.jira.Close)

	ticket := map[string]any{
		"id":     1,
		"status": "open",
		"custom_fields": []map[string]any{
			{"id": 360001, "value": "OPS-1"},
			{"id": 360002, "value": "prio_high"},
			{"id": 360003, "value": nil},
		},
	}
	f.zendesk.SetResponse("GET /api/v2/search.json", http.StatusOK, map[string]any{
		"results":   []any{ticket},
		"next_page": nil,
	})
	f.zendesk.SetResponse("GET /api/v2/tickets/1/comments.json", http.StatusOK, map[string]any{
		"comments":  []any{},
		"next_page": nil,
	})
	f.zendesk.SetResponse("PUT /api/v2/tickets/1.json", http.StatusOK, map[string]any{"ticket": ticket})

	f.jira.SetResponse("GET /rest/api/3/issue/OPS-1", http.StatusOK, map[string]any{
		"id":  "10000",
		"key": "OPS-1",
		"fields": map[string]any{
			"customfield_10010": map[string]any{"value": "Low"},
			"duedate":           "2024-05-01",
		},
	})
	f.jira.SetResponse("GET /rest/api/3/issue/OPS-1/comment", http.StatusOK, map[string]any{
		"startAt": 0, "maxResults": 100, "total": 1,
		"comments": []any{map[string]any{
			"id":      "10001",
			"author":  map[string]any{"displayName": "Ana Souza"},
			"created": "2024-05-02T13:00:00.000+0000",
			"body": map[string]any{
				"type": "doc", "version": 1,
				"content": []any{map[string]any{
					"type":    "paragraph",
					"content": []any{map[string]any{"type": "text", "text": "Fix deployed #zendesk"}},
				}},
			},
		}},
	})
	f.jira.SetResponse("PUT /rest/api/3/issue/OPS-1", http.StatusNoContent, nil)

	cfg := fmt.Sprintf(`
links:
  - name: acme
    linked_issue_field_id: "360001"
    zendesk:
      base_url: %s
      email: bot@acme.com
      token: zd-token
    jira:
      base_url: %s
      email: bot@acme.com
      token: jira-token
    sync_fields_zendesk_to_jira:
      - zendesk_field_id: "360002"
        jira_field_id: customfield_10010
        value_property: value
        map:
          - from: prio_high
            to: High
    sync_fields_jira_to_zendesk:
      - jira_field_id: duedate
        zendesk_field_id: "360003"
        is_date: true
`, f.zendesk.URL(), f.jira.URL())
	f.config = filepath.Join(t.TempDir(), "deskbridge.yaml")
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o600))
	return f
}

func writes(m *testutil.MockServer) []testutil.RecordedRequest {
	var out []testutil.RecordedRequest
	for _, r := range m.Requests() {
		if r.Method == http.MethodPut {
			out = append(out, r)
		}
	}
	return out
}

func TestRunSyncsFieldsAndComments(t *testing.T) {
	f := newFixture(t)

	out, err := executeCommand(t, "--config", f.config, "run")
	require.NoError(t, err)

	var result struct {
		Success bool `json:"success"`
		Stats   struct {
			Tickets  int `json:"tickets"`
			Issues   int `json:"issues"`
			ToIssue  struct{ Updated int } `json:"zendesk_to_jira"`
			ToTicket struct{ Updated int } `json:"jira_to_zendesk"`
			Comments struct{ Mirrored int } `json:"comments"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Stats.Tickets)
	assert.Equal(t, 1, result.Stats.Issues)
	assert.Equal(t, 1, result.Stats.ToIssue.Updated)
	assert.Equal(t, 1, result.Stats.ToTicket.Updated)
	assert.Equal(t, 1, result.Stats.Comments.Mirrored)

	jiraWrites := writes(f.jira)
	require.Len(t, jiraWrites, 1)
	var body struct {
		Fields map[string]any `json:"fields"`
	}
	require.NoError(t, jiraWrites[0].DecodeBody(&body))
	assert.Equal(t, map[string]any{"value": "High"}, body.Fields["customfield_10010"])

	var note bool
	for _, w := range writes(f.zendesk) {
		if strings.Contains(string(w.Body), "html_body") {
			note = true
			assert.Contains(t, string(w.Body), "ID: 10001")
			assert.Contains(t, string(w.Body), "Ana Souza")
		}
	}
	assert.True(t, note, "expected a private note on the ticket")
}

func TestRunDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)

	out, err := executeCommand(t, "--config", f.config, "run", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, `"dry_run": true`)
	assert.Empty(t, writes(f.jira))
	assert.Empty(t, writes(f.zendesk))
}

func TestRunUnknownLink(t *testing.T) {
	f := newFixture(t)

	_, err := executeCommand(t, "--config", f.config, "run", "--link", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configured link matches nope")
}

func TestRunReportsFailures(t *testing.T) {
	f := newFixture(t)
	f.jira.SetResponse("GET /rest/api/3/issue/OPS-1", http.StatusNotFound, map[string]any{"errorMessages": []string{"Issue does not exist"}})

	out, err := executeCommand(t, "--config", f.config, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync finished with 1 failures")
	assert.Contains(t, out, `"success": false`)
}

func TestConfigValidate(t *testing.T) {
	f := newFixture(t)

	out, err := executeCommand(t, "--config", f.config, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "ok (1 links)")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("interval: 0s\nlinks: []\n"), 0o600))
	_, err = executeCommand(t, "--config", bad, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")
	assert.Contains(t, err.Error(), "no links configured")
}

func TestConfigShowRedactsTokens(t *testing.T) {
	f := newFixture(t)

	out, err := executeCommand(t, "--config", f.config, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "name: acme")
	assert.Contains(t, out, "****")
	assert.NotContains(t, out, "zd-token")
	assert.NotContains(t, out, "jira-token")
}

func TestRenderDocument(t *testing.T) {
	doc := `{"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":"a < b","marks":[{"type":"strong"}]}]}]}`
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	out, err := executeCommand(t, "render", path)
	require.NoError(t, err)
	assert.Contains(t, out, "<strong>a &lt; b</strong>")
}

func TestRenderRejectsNonDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"paragraph"}`), 0o600))

	_, err := executeCommand(t, "render", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an ADF document")
}

func TestRenderNote(t *testing.T) {
	comment := `{"id":"10001","author":{"displayName":"Ana"},"created":"2024-05-02T13:00:00.000+0000",
		"body":{"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":"hello"}]}]}}`
	path := filepath.Join(t.TempDir(), "comment.json")
	require.NoError(t, os.WriteFile(path, []byte(comment), 0o600))

	out, err := executeCommand(t, "render", "--note", "--timezone", "UTC", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ID: 10001")
	assert.Contains(t, out, "02/05/2024 13:00:00")
	assert.Contains(t, out, "hello")
}

func TestVersionJSON(t *testing.T) {
	out, err := executeCommand(t, "version", "--json")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
	assert.Equal(t, Build, v["build"])
}
