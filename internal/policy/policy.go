// Package policy decides whether a pull request needs a reminder to attach
// labels and projects.
package policy

import "github.com/a-saketh/pr-notifier/internal/event"

// Messages holds the reminder texts posted on the pull request.
type Messages struct {
	LabelsAndProjects string
	Labels            string
	Projects          string
}

// DefaultMessages are the texts the Backoffice team uses.
var DefaultMessages = Messages{
	LabelsAndProjects: "Por favor, asegúrate de asignar los labels y proyectos necesarios para una mejor gestión.",
	Labels:            "Por favor, asigna los labels necesarios para una mejor gestión.",
	Projects:          "Por favor, asigna los proyectos necesarios para una mejor gestión.",
}

// Policy is the labels/projects completeness rule.
type Policy struct {
	msgs Messages
}

// New returns a Policy posting msgs.
func New(msgs Messages) Policy {
	return Policy{msgs: msgs}
}

// Decide returns the reminder to post, or false when the pull request
// already carries both labels and projects.
func (p Policy) Decide(labels []string, projects []event.ProjectAssociation) (string, bool) {
	switch {
	case len(labels) == 0 && len(projects) == 0:
		return p.msgs.LabelsAndProjects, true
	case len(labels) == 0:
		return p.msgs.Labels, true
	case len(projects) == 0:
		return p.msgs.Projects, true
	default:
		return "", false
	}
}
