package router

import (
	"context"
	"log/slog"

	"github.com/a-saketh/pr-notifier/internal/card"
	"github.com/a-saketh/pr-notifier/internal/config"
	"github.com/a-saketh/pr-notifier/internal/event"
	"github.com/a-saketh/pr-notifier/internal/notify"
	"github.com/a-saketh/pr-notifier/internal/policy"
	"github.com/a-saketh/pr-notifier/internal/projects"
)

// Installations finds the GitHub App installation to act as for a delivery.
type Installations interface {
	InstallationID(ctx context.Context, fromEvent, fallback int64, owner, repo string) (int64, error)
}

// Commenter posts a comment on a pull request.
type Commenter interface {
	Comment(ctx context.Context, installationID int64, owner, repo string, number int, body string) error
}

// Notifier delivers the card for a delivery.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

// Deps are the collaborators of a Router.
type Deps struct {
	Installations Installations
	Resolver      projects.Resolver
	Policy        policy.Policy
	Commenter     Commenter
	Builder       *card.Builder
	Notifier      Notifier
}

// Router runs the pipeline for pull_request deliveries. It keeps no state
// between deliveries and is safe for concurrent use.
type Router struct {
	cfg  *config.Config
	deps Deps
	log  *slog.Logger
}

// New returns a Router reading its gates from cfg.
func New(cfg *config.Config, deps Deps, log *slog.Logger) *Router {
	return &Router{
		cfg:  cfg,
		deps: deps,
		log:  log.With(slog.String("component", "router")),
	}
}

// Handle processes one delivery to completion. Every step is awaited in
// order; a failed comment never prevents the notification.
func (r *Router) Handle(ctx context.Context, evt event.PullRequestEvent) {
	pr := evt.PullRequest
	repo := evt.Repository
	log := r.log.With(
		slog.String("delivery", evt.DeliveryID),
		slog.String("action", string(evt.Action)),
		slog.String("repo", repo.Owner+"/"+repo.Name),
		slog.Int("pr", pr.Number),
	)

	if !evt.Action.Handled() {
		log.Debug("ignoring pull_request action")
		return
	}

	matched := r.cfg.MatchesRepo(repo.Name)
	if !matched && !r.cfg.NotifyUnmatchedRepos {
		log.Info("repository does not match any prefix, skipping")
		return
	}
	log.Info("processing pull request", slog.Bool("prefix_match", matched))

	installationID, err := r.deps.Installations.InstallationID(ctx, evt.InstallationID, r.cfg.InstallationID, repo.Owner, repo.Name)
	if err != nil {
		log.Warn("could not determine installation", slog.Any("error", err))
	}

	found := r.deps.Resolver.Resolve(ctx, installationID, pr)
	log.Debug("projects resolved", slog.Int("count", len(found)))

	switch evt.Action {
	case event.ActionOpened, event.ActionReopened:
		if !matched {
			break
		}
		if msg, ok := r.deps.Policy.Decide(pr.Labels, found); ok {
			r.comment(ctx, log, installationID, evt, msg)
		}
	case event.ActionClosed:
		if matched && r.cfg.ClosedComment != "" {
			r.comment(ctx, log, installationID, evt, r.cfg.ClosedComment)
		}
	}

	r.deps.Notifier.Notify(ctx, notify.Notification{
		DeliveryID: evt.DeliveryID,
		Action:     string(evt.Action),
		Repository: repo.Owner + "/" + repo.Name,
		Number:     pr.Number,
		Card:       r.deps.Builder.Build(pr, found),
	})
}

func (r *Router) comment(ctx context.Context, log *slog.Logger, installationID int64, evt event.PullRequestEvent, body string) {
	err := r.deps.Commenter.Comment(ctx, installationID, evt.Repository.Owner, evt.Repository.Name, evt.PullRequest.Number, body)
	if err != nil {
		log.Warn("continuing without comment")
	}
}
