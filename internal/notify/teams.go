package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-saketh/pr-notifier/internal/card"
)

// MessageCard is the legacy Office 365 connector card accepted by Teams
// incoming webhooks.
type MessageCard struct {
	Type            string        `json:"@type"`
	Context         string        `json:"@context"`
	ThemeColor      string        `json:"themeColor"`
	Summary         string        `json:"summary"`
	Sections        []CardSection `json:"sections"`
	PotentialAction []CardAction  `json:"potentialAction"`
}

// CardSection is the single activity section holding the facts.
type CardSection struct {
	ActivityTitle    string      `json:"activityTitle"`
	ActivitySubtitle string      `json:"activitySubtitle"`
	ActivityImage    string      `json:"activityImage"`
	Facts            []card.Fact `json:"facts"`
	Markdown         bool        `json:"markdown"`
}

// CardAction is an OpenUri button.
type CardAction struct {
	Type    string       `json:"@type"`
	Name    string       `json:"name"`
	Targets []CardTarget `json:"targets"`
}

// CardTarget is the URI a CardAction opens.
type CardTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

// NewMessageCard lays a card out as a single-section MessageCard.
func NewMessageCard(c card.Card) MessageCard {
	actions := make([]CardAction, 0, len(c.Actions))
	for _, a := range c.Actions {
		actions = append(actions, CardAction{
			Type:    "OpenUri",
			Name:    a.Name,
			Targets: []CardTarget{{OS: "default", URI: a.URL}},
		})
	}
	return MessageCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: c.ThemeColor,
		Summary:    c.Summary,
		Sections: []CardSection{{
			ActivityTitle:    c.Title,
			ActivitySubtitle: c.Subtitle,
			ActivityImage:    c.Image,
			Facts:            c.Facts,
			Markdown:         true,
		}},
		PotentialAction: actions,
	}
}

// Teams posts cards to a Teams incoming webhook.
type Teams struct {
	url    string
	client *http.Client
}

// NewTeams posts to the incoming webhook url with the given client timeout.
func NewTeams(url string, timeout time.Duration) *Teams {
	return &Teams{url: url, client: &http.Client{Timeout: timeout}}
}

// Name identifies the channel in logs.
func (t *Teams) Name() string { return "teams" }

// Send makes a single POST. Any status of 300 or above is an error carrying
// the response body.
func (t *Teams) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(NewMessageCard(n.Card))
	if err != nil {
		return fmt.Errorf("teams: marshal card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("teams: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams: post: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		if readErr != nil {
			return fmt.Errorf("teams: webhook returned %d, reading body: %w", resp.StatusCode, readErr)
		}
		return fmt.Errorf("teams: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
