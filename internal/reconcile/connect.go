package reconcile

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zxperience/deskbridge/internal/governor"
	"github.com/zxperience/deskbridge/internal/jira"
	"github.com/zxperience/deskbridge/internal/types"
	"github.com/zxperience/deskbridge/internal/zendesk"
)

// Connector builds API clients for links. All clients of one remote system
// share that system's governor, so the concurrency cap holds across tenants.
type Connector struct {
	Zendesk *governor.Governor
	Jira    *governor.Governor
	Timeout time.Duration
	Logger  *slog.Logger
}

// Connect returns a Zendesk and a Jira client for the link.
func (c *Connector) Connect(link *types.TenantLink) (TicketStore, IssueStore, error) {
	if link.Zendesk.Token == "" {
		return nil, nil, fmt.Errorf("link %s: zendesk token not set", link.Name)
	}
	if link.Jira.Token == "" {
		return nil, nil, fmt.Errorf("link %s: jira token not set", link.Name)
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	z := zendesk.NewClient(zendesk.BaseURL(link.Zendesk), link.Zendesk.Email, link.Zendesk.Token, c.Zendesk)
	z.Logger = logger.With("system", "zendesk", "link", link.Name)

	j := jira.NewClient(jira.BaseURL(link.Jira), link.Jira.Email, link.Jira.Token, c.Jira)
	j.Logger = logger.With("system", "jira", "link", link.Name)

	if c.Timeout > 0 {
		z.HTTPClient.Timeout = c.Timeout
		j.HTTPClient.Timeout = c.Timeout
	}
	return z, j, nil
}
