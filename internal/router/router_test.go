package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/a-saketh/pr-notifier/internal/card"
	"github.com/a-saketh/pr-notifier/internal/config"
	"github.com/a-saketh/pr-notifier/internal/event"
	"github.com/a-saketh/pr-notifier/internal/notify"
	"github.com/a-saketh/pr-notifier/internal/policy"
	"github.com/a-saketh/pr-notifier/internal/projects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockInstallations struct{ mock.Mock }

func (m *mockInstallations) InstallationID(ctx context.Context, fromEvent, fallback int64, owner, repo string) (int64, error) {
	args := m.Called(ctx, fromEvent, fallback, owner, repo)
	return args.Get(0).(int64), args.Error(1)
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Strategy() string { return "mock" }

func (m *mockResolver) Resolve(ctx context.Context, installationID int64, pr event.PullRequest) []event.ProjectAssociation {
	args := m.Called(ctx, installationID, pr)
	return args.Get(0).([]event.ProjectAssociation)
}

type mockCommenter struct{ mock.Mock }

func (m *mockCommenter) Comment(ctx context.Context, installationID int64, owner, repo string, number int, body string) error {
	args := m.Called(ctx, installationID, owner, repo, number, body)
	return args.Error(0)
}

type recordingNotifier struct {
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.sent = append(r.sent, n)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		RepoPrefixes:         []string{"ORA_", "WF_"},
		NotifyUnmatchedRepos: true,
		ProjectPlaceholder:   "PR sin Proyecto",
	}
}

func prEvent(action event.Action, repo string) event.PullRequestEvent {
	return event.PullRequestEvent{
		DeliveryID:     "d-1",
		Action:         action,
		InstallationID: 77,
		Repository:     event.Repository{Owner: "acme", Name: repo},
		PullRequest: event.PullRequest{
			NodeID:    "PR_kwDOABCD",
			Number:    42,
			Title:     "Add export",
			Author:    "octocat",
			State:     "open",
			CreatedAt: time.Date(2025, 3, 10, 15, 4, 5, 0, time.UTC),
			Head:      "feature/export",
			Base:      "main",
			BaseRepo:  repo,
			HTMLURL:   "https://github.com/acme/" + repo + "/pull/42",
		},
	}
}

type fixture struct {
	installations *mockInstallations
	resolver      *mockResolver
	commenter     *mockCommenter
	notifier      *recordingNotifier
}

func newRouter(cfg *config.Config, resolver projects.Resolver, f *fixture) *Router {
	return New(cfg, Deps{
		Installations: f.installations,
		Resolver:      resolver,
		Policy:        policy.New(policy.DefaultMessages),
		Commenter:     f.commenter,
		Builder:       card.NewBuilder(time.UTC, cfg.ProjectPlaceholder),
		Notifier:      f.notifier,
	}, discardLogger())
}

func newFixture() *fixture {
	f := &fixture{
		installations: &mockInstallations{},
		resolver:      &mockResolver{},
		commenter:     &mockCommenter{},
		notifier:      &recordingNotifier{},
	}
	f.installations.On("InstallationID", mock.Anything, int64(77), int64(0), "acme", mock.Anything).Return(int64(77), nil).Maybe()
	return f
}

func fact(t *testing.T, c card.Card, name string) string {
	t.Helper()
	for _, f := range c.Facts {
		if f.Name == name {
			return f.Value
		}
	}
	t.Fatalf("fact %q not found", name)
	return ""
}

func TestOpenedWithoutLabelsOrProjects(t *testing.T) {
	f := newFixture()
	evt := prEvent(event.ActionOpened, "ORA_Billing")
	f.resolver.On("Resolve", mock.Anything, int64(77), evt.PullRequest).Return([]event.ProjectAssociation{}).Once()
	f.commenter.On("Comment", mock.Anything, int64(77), "acme", "ORA_Billing", 42, policy.DefaultMessages.LabelsAndProjects).Return(nil).Once()

	newRouter(testConfig(), f.resolver, f).Handle(context.Background(), evt)

	f.resolver.AssertExpectations(t)
	f.commenter.AssertExpectations(t)
	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	assert.Equal(t, "opened", n.Card.Theme)
	assert.Equal(t, "d-1", n.DeliveryID)
	assert.Equal(t, "acme/ORA_Billing", n.Repository)
	assert.Equal(t, "PR sin Proyecto", fact(t, n.Card, "Proyectos:"))
}

func TestOpenedPolicyOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		labels   []string
		projects []event.ProjectAssociation
		want     string
	}{
		{
			name:     "missing labels",
			projects: []event.ProjectAssociation{{Title: "Backoffice"}},
			want:     policy.DefaultMessages.Labels,
		},
		{
			name:   "missing projects",
			labels: []string{"bug"},
			want:   policy.DefaultMessages.Projects,
		},
		{
			name:     "complete",
			labels:   []string{"bug"},
			projects: []event.ProjectAssociation{{Title: "Backoffice"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			evt := prEvent(event.ActionReopened, "WF_Orders")
			evt.PullRequest.Labels = tt.labels
			resolved := tt.projects
			if resolved == nil {
				resolved = []event.ProjectAssociation{}
			}
			f.resolver.On("Resolve", mock.Anything, int64(77), evt.PullRequest).Return(resolved)
			if tt.want != "" {
				f.commenter.On("Comment", mock.Anything, int64(77), "acme", "WF_Orders", 42, tt.want).Return(nil).Once()
			}

			newRouter(testConfig(), f.resolver, f).Handle(context.Background(), evt)

			f.commenter.AssertExpectations(t)
			if tt.want == "" {
				f.commenter.AssertNotCalled(t, "Comment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
			assert.Len(t, f.notifier.sent, 1)
		})
	}
}

func TestClosedMergedSkipsPolicy(t *testing.T) {
	f := newFixture()
	evt := prEvent(event.ActionClosed, "ORA_Billing")
	evt.PullRequest.State = "closed"
	evt.PullRequest.Merged = true
	f.resolver.On("Resolve", mock.Anything, int64(77), evt.PullRequest).Return([]event.ProjectAssociation{})

	newRouter(testConfig(), f.resolver, f).Handle(context.Background(), evt)

	f.commenter.AssertNotCalled(t, "Comment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "merged", f.notifier.sent[0].Card.Theme)
	assert.Equal(t, card.ThemeMerged.Color, f.notifier.sent[0].Card.ThemeColor)
}

func TestClosedCommentWhenConfigured(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.ClosedComment = "Gracias por tu contribución"
	evt := prEvent(event.ActionClosed, "ORA_Billing")
	evt.PullRequest.State = "closed"
	f.resolver.On("Resolve", mock.Anything, int64(77), evt.PullRequest).Return([]event.ProjectAssociation{})
	f.commenter.On("Comment", mock.Anything, int64(77), "acme", "ORA_Billing", 42, "Gracias por tu contribución").Return(nil).Once()

	newRouter(cfg, f.resolver, f).Handle(context.Background(), evt)

	f.commenter.AssertExpectations(t)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "closed", f.notifier.sent[0].Card.Theme)
}

func TestIssueAliasStatusesRendered(t *testing.T) {
	f := newFixture()
	q := &cannedQuerier{data: `{"node":{"projectItems":{"nodes":[
		{"project":{"title":"Roadmap"},"fieldValueByName":{"name":"In Progress"}},
		{"project":{"title":"Roadmap"},"fieldValueByName":{"name":"Done"}},
		{"project":{"title":"Roadmap"},"fieldValueByName":{"name":"Done"}}
	]}}}`}
	resolver, err := projects.New(config.StrategyIssueAlias, projects.Static(q), discardLogger())
	require.NoError(t, err)

	evt := prEvent(event.ActionOpened, "ORA_Billing")
	evt.PullRequest.Labels = []string{"feature"}

	newRouter(testConfig(), resolver, f).Handle(context.Background(), evt)

	f.commenter.AssertNotCalled(t, "Comment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Roadmap (In Progress), Roadmap (Done)", fact(t, f.notifier.sent[0].Card, "Proyectos:"))
	assert.Equal(t, "I_kwDOABCD", q.lastVars["id"])
}

func TestUnmatchedRepoNotifiesWithoutComment(t *testing.T) {
	f := newFixture()
	evt := prEvent(event.ActionOpened, "other-repo")
	f.resolver.On("Resolve", mock.Anything, int64(77), evt.PullRequest).Return([]event.ProjectAssociation{})

	newRouter(testConfig(), f.resolver, f).Handle(context.Background(), evt)

	f.commenter.AssertNotCalled(t, "Comment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, f.notifier.sent, 1)
}

func TestUnmatchedRepoGated(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.NotifyUnmatchedRepos = false

	newRouter(cfg, f.resolver, f).Handle(context.Background(), prEvent(event.ActionOpened, "other-repo"))

	f.installations.AssertNotCalled(t, "InstallationID", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.sent)
}

func TestIgnoredAction(t *testing.T) {
	f := newFixture()

	newRouter(testConfig(), f.resolver, f).Handle(context.Background(), prEvent("synchronize", "ORA_Billing"))

	f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.sent)
}

func TestCommentFailureStillNotifies(t *testing.T) {
	f := newFixture()
	evt := prEvent(event.ActionOpened, "ORA_Billing")
	f.resolver.On("Resolve", mock.Anything, int64(77), evt.PullRequest).Return([]event.ProjectAssociation{})
	f.commenter.On("Comment", mock.Anything, int64(77), "acme", "ORA_Billing", 42, mock.Anything).Return(errors.New("403")).Once()

	newRouter(testConfig(), f.resolver, f).Handle(context.Background(), evt)

	f.commenter.AssertExpectations(t)
	assert.Len(t, f.notifier.sent, 1)
}

func TestInstallationLookupFailureContinues(t *testing.T) {
	f := &fixture{
		installations: &mockInstallations{},
		resolver:      &mockResolver{},
		commenter:     &mockCommenter{},
		notifier:      &recordingNotifier{},
	}
	evt := prEvent(event.ActionOpened, "ORA_Billing")
	evt.InstallationID = 0
	evt.PullRequest.Labels = []string{"bug"}
	f.installations.On("InstallationID", mock.Anything, int64(0), int64(0), "acme", "ORA_Billing").Return(int64(0), errors.New("not installed")).Once()
	f.resolver.On("Resolve", mock.Anything, int64(0), evt.PullRequest).Return([]event.ProjectAssociation{{Title: "Ops"}}).Once()

	newRouter(testConfig(), f.resolver, f).Handle(context.Background(), evt)

	f.installations.AssertExpectations(t)
	f.resolver.AssertExpectations(t)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Ops", fact(t, f.notifier.sent[0].Card, "Proyectos:"))
}

type cannedQuerier struct {
	data     string
	lastVars map[string]interface{}
}

func (c *cannedQuerier) DoWithContext(_ context.Context, _ string, vars map[string]interface{}, resp interface{}) error {
	c.lastVars = vars
	return json.Unmarshal([]byte(c.data), resp)
}
