package event

import (
	"time"

	"github.com/google/go-github/v68/github"
)

// Action is the pull_request webhook action this service reacts to.
type Action string

const (
	ActionOpened   Action = "opened"
	ActionClosed   Action = "closed"
	ActionReopened Action = "reopened"
)

// Handled reports whether the router has a pipeline for the action.
func (a Action) Handled() bool {
	switch a {
	case ActionOpened, ActionClosed, ActionReopened:
		return true
	}
	return false
}

// Repository identifies the repository the event was delivered for.
type Repository struct {
	Name  string
	Owner string
}

// PullRequest is the snapshot of a pull request carried by the webhook.
type PullRequest struct {
	// NodeID is the GraphQL node identifier, stable for the life of the pull request.
	NodeID    string
	Number    int
	Title     string
	Author    string
	AvatarURL string
	State     string
	Merged    bool
	CreatedAt time.Time
	Head      string
	Base      string
	BaseRepo  string
	Labels    []string
	Reviewers []string
	HTMLURL   string
}

// PullRequestEvent is a single pull_request delivery.
type PullRequestEvent struct {
	DeliveryID     string
	Action         Action
	InstallationID int64
	Repository     Repository
	PullRequest    PullRequest
}

// ProjectAssociation links a pull request to a project board.
type ProjectAssociation struct {
	Title  string
	Status string
}

// String renders the association as shown on the notification card.
func (p ProjectAssociation) String() string {
	if p.Status == "" {
		return p.Title
	}
	return p.Title + " (" + p.Status + ")"
}

// FromGitHub maps a parsed pull_request webhook payload into a PullRequestEvent.
// Missing optional fields fall back to their zero values.
func FromGitHub(deliveryID string, e *github.PullRequestEvent) PullRequestEvent {
	pr := e.GetPullRequest()
	if pr == nil {
		pr = &github.PullRequest{}
	}
	repo := e.GetRepo()

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		if name := l.GetName(); name != "" {
			labels = append(labels, name)
		}
	}

	reviewers := make([]string, 0, len(pr.RequestedReviewers))
	for _, u := range pr.RequestedReviewers {
		if login := u.GetLogin(); login != "" {
			reviewers = append(reviewers, login)
		}
	}

	baseRepo := pr.GetBase().GetRepo().GetName()
	if baseRepo == "" {
		baseRepo = repo.GetName()
	}

	return PullRequestEvent{
		DeliveryID:     deliveryID,
		Action:         Action(e.GetAction()),
		InstallationID: e.GetInstallation().GetID(),
		Repository: Repository{
			Name:  repo.GetName(),
			Owner: repo.GetOwner().GetLogin(),
		},
		PullRequest: PullRequest{
			NodeID:    pr.GetNodeID(),
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			Author:    pr.GetUser().GetLogin(),
			AvatarURL: pr.GetUser().GetAvatarURL(),
			State:     pr.GetState(),
			Merged:    pr.GetMerged(),
			CreatedAt: pr.GetCreatedAt().Time.UTC(),
			Head:      pr.GetHead().GetRef(),
			Base:      pr.GetBase().GetRef(),
			BaseRepo:  baseRepo,
			Labels:    labels,
			Reviewers: reviewers,
			HTMLURL:   pr.GetHTMLURL(),
		},
	}
}
