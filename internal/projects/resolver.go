package projects

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/a-saketh/pr-notifier/internal/config"
	"github.com/a-saketh/pr-notifier/internal/event"
)

// Querier runs a raw GraphQL document. *api.GraphQLClient from go-gh satisfies it.
type Querier interface {
	DoWithContext(ctx context.Context, query string, variables map[string]interface{}, response interface{}) error
}

// QuerierSource returns the GraphQL client a strategy should use for a delivery.
type QuerierSource func(ctx context.Context, installationID int64) (Querier, error)

// Resolver looks up the projects a pull request belongs to.
//
// Implementations never fail: lookup errors are logged and yield an empty
// result so the notification pipeline can continue.
type Resolver interface {
	Strategy() string
	Resolve(ctx context.Context, installationID int64, pr event.PullRequest) []event.ProjectAssociation
}

// New returns the Resolver for the configured strategy.
func New(strategy string, source QuerierSource, log *slog.Logger) (Resolver, error) {
	log = log.With(slog.String("component", "projects"), slog.String("strategy", strategy))
	switch strategy {
	case config.StrategyDirect:
		return &Direct{source: source, log: log}, nil
	case config.StrategyIssueAlias:
		return &IssueAlias{source: source, log: log}, nil
	default:
		return nil, fmt.Errorf("unsupported project strategy: %q", strategy)
	}
}

// Static wraps a single client, e.g. one authenticated with a personal access token.
func Static(q Querier) QuerierSource {
	return func(context.Context, int64) (Querier, error) {
		return q, nil
	}
}

// dedupe drops empty titles and repeated renderings, keeping first occurrences in order.
func dedupe(in []event.ProjectAssociation) []event.ProjectAssociation {
	seen := make(map[string]struct{}, len(in))
	out := make([]event.ProjectAssociation, 0, len(in))
	for _, p := range in {
		if p.Title == "" {
			continue
		}
		key := p.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func query(ctx context.Context, source QuerierSource, installationID int64, doc string, vars map[string]interface{}, resp interface{}) error {
	q, err := source(ctx, installationID)
	if err != nil {
		return fmt.Errorf("graphql client: %w", err)
	}
	if err := q.DoWithContext(ctx, doc, vars, resp); err != nil {
		return fmt.Errorf("graphql query: %w", err)
	}
	return nil
}
