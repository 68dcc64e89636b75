package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zxperience/deskbridge/internal/comments"
	"github.com/zxperience/deskbridge/internal/jira"
)

var renderCmd = &cobra.Command{
	Use:   "render FILE",
	Short: "Render an ADF document to HTML",
	Long: `Render an Atlassian Document Format document to the HTML used for
mirrored notes. FILE may be "-" to read standard input.

With --note, FILE is a Jira comment as returned by the REST API and the
output is the complete sanitized note, header included.

Examples:
  deskbridge render body.json
  curl -s .../rest/api/3/issue/OPS-1/comment/10001 | deskbridge render --note -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetBool("note")
		tz, _ := cmd.Flags().GetString("timezone")

		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		html, err := renderInput(data, note, tz)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), html)
		return err
	},
}

func init() {
	renderCmd.Flags().Bool("note", false, "Input is a Jira comment; print the full mirrored note")
	renderCmd.Flags().String("timezone", "America/Sao_Paulo", "Zone for the note timestamp (with --note)")
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path) // #nosec G304 -- user-supplied input file
}

func renderInput(data []byte, note bool, tz string) (string, error) {
	if note {
		var c jira.Comment
		if err := json.Unmarshal(data, &c); err != nil {
			return "", fmt.Errorf("parse comment: %w", err)
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("timezone: %w", err)
		}
		m := comments.NewMirror(nil, nil, nil, comments.Options{Location: loc})
		return m.Render(&c), nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	doc, ok := jira.DecodeDocument(v)
	if !ok {
		return "", fmt.Errorf("input is not an ADF document (top-level type must be \"doc\")")
	}
	return jira.RenderHTML(doc), nil
}
