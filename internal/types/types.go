// Package types defines the core data structures shared by the deskbridge
// sync components: tenant links, field mappings and sync directions.
package types

import (
	"fmt"
	"strings"
)

// Direction identifies which side of a tenant link is the source of a field.
type Direction string

// Sync directions
const (
	ToIssue  Direction = "zendesk_to_jira" // Zendesk ticket is the source, Jira issue the target
	ToTicket Direction = "jira_to_zendesk" // Jira issue is the source, Zendesk ticket the target
)

// ValueMapEntry is one row of a value substitution table.
type ValueMapEntry struct {
	From string `json:"from" yaml:"from" mapstructure:"from"`
	To   string `json:"to" yaml:"to" mapstructure:"to"`
}

// FieldMapping pairs a Zendesk field with a Jira field and carries the
// independent transformation toggles applied when the value crosses over.
// The same record type serves both directions; the direction is given by
// the list the mapping appears in (TenantLink.ToIssue or TenantLink.ToTicket).
type FieldMapping struct {
	JiraFieldID    string `json:"jira_field_id" yaml:"jira_field_id" mapstructure:"jira_field_id"`
	ZendeskFieldID string `json:"zendesk_field_id" yaml:"zendesk_field_id" mapstructure:"zendesk_field_id"`

	// ZendeskSystemField reads the source from the ticket's top-level
	// attributes (status, group_id, priority, ...) instead of custom_fields.
	ZendeskSystemField bool `json:"is_zendesk_system_field,omitempty" yaml:"is_zendesk_system_field,omitempty" mapstructure:"is_zendesk_system_field"`
	// JiraSystemField projects object/array values (status, fixVersions, ...)
	// through ValueProperty, or "name" when unset.
	JiraSystemField bool `json:"is_jira_system_field,omitempty" yaml:"is_jira_system_field,omitempty" mapstructure:"is_jira_system_field"`
	// ValueProperty is the Jira-side sub-property: values read from Jira are
	// projected through it and values written to Jira are nested under it.
	ValueProperty string `json:"value_property,omitempty" yaml:"value_property,omitempty" mapstructure:"value_property"`
	// ZendeskValueProperty drills into an object-valued ticket attribute
	// (e.g. via -> channel) when ZendeskSystemField is set.
	ZendeskValueProperty string `json:"zendesk_value_property,omitempty" yaml:"zendesk_value_property,omitempty" mapstructure:"zendesk_value_property"`

	ValueMap      []ValueMapEntry `json:"map,omitempty" yaml:"map,omitempty" mapstructure:"map"`
	IsDate        bool            `json:"is_date,omitempty" yaml:"is_date,omitempty" mapstructure:"is_date"`
	IsDateTime    bool            `json:"is_datetime,omitempty" yaml:"is_datetime,omitempty" mapstructure:"is_datetime"`
	IsISODateTime bool            `json:"is_iso_datetime,omitempty" yaml:"is_iso_datetime,omitempty" mapstructure:"is_iso_datetime"`
	NeedUnderline bool            `json:"need_underline,omitempty" yaml:"need_underline,omitempty" mapstructure:"need_underline"`
	IsArray       bool            `json:"is_array,omitempty" yaml:"is_array,omitempty" mapstructure:"is_array"`
	IsDocument    bool            `json:"is_document,omitempty" yaml:"is_document,omitempty" mapstructure:"is_document"`
}

// SourceID returns the id of the field read for the given direction.
func (m FieldMapping) SourceID(dir Direction) string {
	if dir == ToIssue {
		return m.ZendeskFieldID
	}
	return m.JiraFieldID
}

// TargetID returns the id of the field written for the given direction.
func (m FieldMapping) TargetID(dir Direction) string {
	if dir == ToIssue {
		return m.JiraFieldID
	}
	return m.ZendeskFieldID
}

// String renders the mapping as "source->target" for logs.
func (m FieldMapping) String() string {
	return m.ZendeskFieldID + "<->" + m.JiraFieldID
}

// DateFlags counts the date-shaping toggles set on the mapping.
func (m FieldMapping) DateFlags() int {
	n := 0
	for _, set := range []bool{m.IsDate, m.IsDateTime, m.IsISODateTime} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks that the mapping is usable.
// Date-shaping steps run in sequence, so setting more than one would let
// the later step silently overwrite the earlier one.
func (m FieldMapping) Validate() error {
	if strings.TrimSpace(m.JiraFieldID) == "" {
		return fmt.Errorf("jira_field_id is required")
	}
	if strings.TrimSpace(m.ZendeskFieldID) == "" {
		return fmt.Errorf("zendesk_field_id is required")
	}
	if m.DateFlags() > 1 {
		return fmt.Errorf("mapping %s sets more than one of is_date, is_datetime, is_iso_datetime", m)
	}
	for i, e := range m.ValueMap {
		if e.From == "" {
			return fmt.Errorf("mapping %s: map entry %d has empty from", m, i)
		}
	}
	return nil
}

// Credentials addresses one tenant of a remote system.
// BaseURL wins over Subdomain when both are set.
type Credentials struct {
	Subdomain string `json:"subdomain,omitempty" yaml:"subdomain,omitempty" mapstructure:"subdomain"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	Email     string `json:"email" yaml:"email" mapstructure:"email"`
	Token     string `json:"token,omitempty" yaml:"token,omitempty" mapstructure:"token"`
	TokenEnv  string `json:"token_env,omitempty" yaml:"token_env,omitempty" mapstructure:"token_env"`
	// TokenSecret names an AWS Secrets Manager secret holding the token,
	// optionally with "#key" to pick a field of a JSON secret.
	TokenSecret string `json:"token_secret,omitempty" yaml:"token_secret,omitempty" mapstructure:"token_secret"`
}

// TenantLink binds one Zendesk tenant to one Jira tenant, names the Zendesk
// field holding the linked Jira keys, and lists the field mappings for each
// direction. It is immutable for the duration of a run.
type TenantLink struct {
	Name          string         `json:"name" yaml:"name" mapstructure:"name"`
	Zendesk       Credentials    `json:"zendesk" yaml:"zendesk" mapstructure:"zendesk"`
	Jira          Credentials    `json:"jira" yaml:"jira" mapstructure:"jira"`
	LinkedFieldID string         `json:"linked_issue_field_id" yaml:"linked_issue_field_id" mapstructure:"linked_issue_field_id"`
	ToIssue       []FieldMapping `json:"sync_fields_zendesk_to_jira,omitempty" yaml:"sync_fields_zendesk_to_jira,omitempty" mapstructure:"sync_fields_zendesk_to_jira"`
	ToTicket      []FieldMapping `json:"sync_fields_jira_to_zendesk,omitempty" yaml:"sync_fields_jira_to_zendesk,omitempty" mapstructure:"sync_fields_jira_to_zendesk"`
}

// Mappings returns the mapping list for one direction.
func (l *TenantLink) Mappings(dir Direction) []FieldMapping {
	if dir == ToIssue {
		return l.ToIssue
	}
	return l.ToTicket
}

// Validate checks the link's own invariants: a linking field and unique
// mappings per (direction, source, target).
func (l *TenantLink) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("link name is required")
	}
	if l.LinkedFieldID == "" {
		return fmt.Errorf("link %s: linked_issue_field_id is required", l.Name)
	}
	for _, dir := range []Direction{ToIssue, ToTicket} {
		seen := make(map[string]bool)
		for _, m := range l.Mappings(dir) {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("link %s (%s): %w", l.Name, dir, err)
			}
			key := m.SourceID(dir) + "->" + m.TargetID(dir)
			if seen[key] {
				return fmt.Errorf("link %s (%s): duplicate mapping %s", l.Name, dir, key)
			}
			seen[key] = true
		}
	}
	return nil
}

// CommentMarker returns the literal substring embedded in a mirrored note
// that proves the source comment was already forwarded.
func CommentMarker(sourceID string) string {
	return "ID: " + sourceID
}
