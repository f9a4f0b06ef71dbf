// Package card turns a pull request into the summary card sent to chat.
package card

import (
	"strings"
	"time"

	"github.com/a-saketh/pr-notifier/internal/event"
)

const (
	// Placeholder is rendered for empty label and reviewer lists.
	Placeholder   = "N/A"
	defaultAvatar = "https://github.githubassets.com/images/modules/logos_page/GitHub-Mark.png"
	// Medium date-time with seconds, e.g. "Oct 14, 2025, 9:30:33 AM".
	timeLayout = "Jan 2, 2006, 3:04:05 PM"
)

// Theme selects the color and headline of a card.
type Theme struct {
	Name  string
	Color string
	Title string
}

var (
	ThemeOpened = Theme{Name: "opened", Color: "0078D7", Title: "🚀 **Nuevo Pull Request Creado**"}
	ThemeMerged = Theme{Name: "merged", Color: "28A745", Title: "🎉 **Pull Request mergeado**"}
	ThemeClosed = Theme{Name: "closed", Color: "D83B01", Title: "❌ **Pull Request cerrado sin mergear**"}
)

// ThemeFor maps every (state, merged) pair to exactly one theme; a merged
// close wins over a plain close.
func ThemeFor(state string, merged bool) Theme {
	switch {
	case state == "closed" && merged:
		return ThemeMerged
	case state == "closed":
		return ThemeClosed
	default:
		return ThemeOpened
	}
}

// Fact is one name/value row of the card.
type Fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Action is a link button on the card.
type Action struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Card is the chat notification for one delivery.
type Card struct {
	Theme      string   `json:"theme"`
	ThemeColor string   `json:"theme_color"`
	Title      string   `json:"title"`
	Subtitle   string   `json:"subtitle"`
	Summary    string   `json:"summary"`
	Image      string   `json:"image"`
	Facts      []Fact   `json:"facts"`
	Actions    []Action `json:"actions"`
}

// Builder renders cards. It is pure: equal inputs give equal cards.
type Builder struct {
	loc                *time.Location
	projectPlaceholder string
}

// NewBuilder renders timestamps in loc and uses projectPlaceholder when a
// pull request has no projects.
func NewBuilder(loc *time.Location, projectPlaceholder string) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	if projectPlaceholder == "" {
		projectPlaceholder = Placeholder
	}
	return &Builder{loc: loc, projectPlaceholder: projectPlaceholder}
}

// Build renders the card for pr. Empty label, reviewer and project lists
// render as placeholders.
func (b *Builder) Build(pr event.PullRequest, projects []event.ProjectAssociation) Card {
	theme := ThemeFor(pr.State, pr.Merged)

	avatar := pr.AvatarURL
	if avatar == "" {
		avatar = defaultAvatar
	}

	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.String())
	}

	return Card{
		Theme:      theme.Name,
		ThemeColor: theme.Color,
		Title:      theme.Title,
		Subtitle:   "Repositorio: **" + pr.BaseRepo + "**",
		Summary:    "Pull Request en " + pr.BaseRepo,
		Image:      avatar,
		Facts: []Fact{
			{Name: "Título:", Value: pr.Title},
			{Name: "Autor:", Value: pr.Author},
			{Name: "Branch:", Value: pr.Head + " → " + pr.Base},
			{Name: "Revisores:", Value: join(pr.Reviewers, Placeholder)},
			{Name: "Creado:", Value: b.formatTime(pr.CreatedAt)},
			{Name: "Labels:", Value: join(pr.Labels, Placeholder)},
			{Name: "Proyectos:", Value: join(names, b.projectPlaceholder)},
		},
		Actions: []Action{
			{Name: "🔗 Ver Pull Request", URL: pr.HTMLURL},
			{Name: "📄 Ver Archivos", URL: pr.HTMLURL + "/files"},
			{Name: "📜 Ver Commits", URL: pr.HTMLURL + "/commits"},
		},
	}
}

func (b *Builder) formatTime(t time.Time) string {
	if t.IsZero() {
		return Placeholder
	}
	return t.In(b.loc).Format(timeLayout)
}

func join(items []string, placeholder string) string {
	if len(items) == 0 {
		return placeholder
	}
	return strings.Join(items, ", ")
}
