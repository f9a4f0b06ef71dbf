package projects

import (
	"context"
	"log/slog"

	"github.com/a-saketh/pr-notifier/internal/config"
	"github.com/a-saketh/pr-notifier/internal/event"
)

const directQuery = `query($id: ID!) {
  node(id: $id) {
    ... on PullRequest {
      projectItems(first: 10) {
        nodes { project { title } }
      }
    }
  }
}`

type directResponse struct {
	Node *struct {
		ProjectItems struct {
			Nodes []struct {
				Project *struct {
					Title string `json:"title"`
				} `json:"project"`
			} `json:"nodes"`
		} `json:"projectItems"`
	} `json:"node"`
}

// Direct reads project titles straight off the pull request node. It needs
// a credential with pull-request level project read access.
type Direct struct {
	source QuerierSource
	log    *slog.Logger
}

// Strategy returns the configuration name of the strategy.
func (d *Direct) Strategy() string { return config.StrategyDirect }

// Resolve reads the project items linked to the pull request node.
func (d *Direct) Resolve(ctx context.Context, installationID int64, pr event.PullRequest) []event.ProjectAssociation {
	var resp directResponse
	vars := map[string]interface{}{"id": pr.NodeID}
	if err := query(ctx, d.source, installationID, directQuery, vars, &resp); err != nil {
		d.log.Error("failed to resolve projects",
			slog.Int("pr", pr.Number), slog.String("node_id", pr.NodeID), slog.Any("error", err))
		return []event.ProjectAssociation{}
	}
	if resp.Node == nil {
		return []event.ProjectAssociation{}
	}

	found := make([]event.ProjectAssociation, 0, len(resp.Node.ProjectItems.Nodes))
	for _, n := range resp.Node.ProjectItems.Nodes {
		if n.Project == nil {
			continue
		}
		found = append(found, event.ProjectAssociation{Title: n.Project.Title})
	}
	return dedupe(found)
}
