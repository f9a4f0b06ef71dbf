package projects

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strconv"
	"strings"

	"github.com/a-saketh/pr-notifier/internal/config"
	"github.com/a-saketh/pr-notifier/internal/event"
)

const aliasQuery = `query($id: ID!) {
  node(id: $id) {
    ... on Issue {
      projectItems(first: 20) {
        nodes {
          project { title }
          fieldValueByName(name: "Status") {
            ... on ProjectV2ItemFieldSingleSelectValue { name }
          }
        }
      }
    }
  }
}`

type aliasResponse struct {
	Node *struct {
		ProjectItems struct {
			Nodes []struct {
				Project *struct {
					Title string `json:"title"`
				} `json:"project"`
				FieldValueByName *struct {
					Name string `json:"name"`
				} `json:"fieldValueByName"`
			} `json:"nodes"`
		} `json:"projectItems"`
	} `json:"node"`
}

// IssueAlias queries the issue paired with the pull request and also reads
// the Status single-select value of each project item. Installation tokens
// can sometimes read issue-linked projects where pull-request-linked reads fail.
type IssueAlias struct {
	source QuerierSource
	log    *slog.Logger
}

// Strategy returns the configuration name of the strategy.
func (a *IssueAlias) Strategy() string { return config.StrategyIssueAlias }

// Resolve reads the project items, with their Status, of the paired issue.
func (a *IssueAlias) Resolve(ctx context.Context, installationID int64, pr event.PullRequest) []event.ProjectAssociation {
	id, ok := IssueNodeID(pr.NodeID)
	if !ok {
		a.log.Warn("node id has no pull request type tag",
			slog.Int("pr", pr.Number), slog.String("node_id", pr.NodeID))
		return []event.ProjectAssociation{}
	}

	var resp aliasResponse
	if err := query(ctx, a.source, installationID, aliasQuery, map[string]interface{}{"id": id}, &resp); err != nil {
		a.log.Error("failed to resolve projects",
			slog.Int("pr", pr.Number), slog.String("node_id", id), slog.Any("error", err))
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
		p := event.ProjectAssociation{Title: n.Project.Title}
		if n.FieldValueByName != nil {
			p.Status = n.FieldValueByName.Name
		}
		found = append(found, p)
	}
	return dedupe(found)
}

const (
	pullRequestTag = "PR_"
	issueTag       = "I_"
	legacyPRType   = "PullRequest"
	legacyIssue    = "Issue"
)

// IssueNodeID rewrites the type tag of a pull request node id so that it
// addresses the issue side of the pull request. Both the current "PR_" form
// and the legacy base64 "<len>:PullRequest<id>" form are understood.
func IssueNodeID(id string) (string, bool) {
	if rest, ok := strings.CutPrefix(id, pullRequestTag); ok && rest != "" {
		return issueTag + rest, true
	}

	raw, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return "", false
	}
	_, after, ok := strings.Cut(string(raw), ":"+legacyPRType)
	if !ok || after == "" {
		return "", false
	}
	legacy := "0" + strconv.Itoa(len(legacyIssue)) + ":" + legacyIssue + after
	return base64.StdEncoding.EncodeToString([]byte(legacy)), true
}
