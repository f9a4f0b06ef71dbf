package commenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v68/github"
)

// ClientSource returns a REST client acting as the given installation.
type ClientSource func(ctx context.Context, installationID int64) (*github.Client, error)

// Commenter posts comments on the issue thread of a pull request.
type Commenter struct {
	source ClientSource
	log    *slog.Logger
}

// New returns a Commenter that authenticates through source.
func New(source ClientSource, log *slog.Logger) *Commenter {
	return &Commenter{
		source: source,
		log:    log.With(slog.String("component", "commenter")),
	}
}

// Comment creates exactly one comment. Failures are logged with the HTTP
// status and API message and returned; there is no retry.
func (c *Commenter) Comment(ctx context.Context, installationID int64, owner, repo string, number int, body string) error {
	log := c.log.With(slog.String("repo", owner+"/"+repo), slog.Int("pr", number))

	client, err := c.source(ctx, installationID)
	if err != nil {
		log.Error("failed to authenticate for comment", slog.Any("error", err))
		return fmt.Errorf("commenter: client for installation %d: %w", installationID, err)
	}

	_, _, err = client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		var apiErr *github.ErrorResponse
		if errors.As(err, &apiErr) && apiErr.Response != nil {
			log.Error("error creating comment",
				slog.Int("status", apiErr.Response.StatusCode),
				slog.String("message", apiErr.Message))
		} else {
			log.Error("error creating comment", slog.Any("error", err))
		}
		return fmt.Errorf("commenter: creating comment on %s/%s#%d: %w", owner, repo, number, err)
	}

	log.Info("comment created")
	return nil
}
