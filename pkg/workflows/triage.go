package workflows

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/petrijr/ticketflow/pkg/api"
	"github.com/petrijr/ticketflow/pkg/directory"
)

const (
	TriageWorkflowID = "on-ticket-created"

	StepLoadTicket      = "load-ticket"
	StepClassifyTicket  = "classify-ticket"
	StepAssignModerator = "assign-moderator"
	StepNotifyAssignee  = "notify-assignee"
)

// Classification is the triage verdict for a ticket.
type Classification struct {
	Priority string
	Skills   []string
	Notes    string
}

// Assignment records who a ticket was handed to.
type Assignment struct {
	TicketID       string
	ModeratorID    string
	ModeratorEmail string
}

// TicketTriage classifies a new ticket, assigns it to a moderator with a
// matching skill (or an admin) and emails the assignee.
func TicketTriage(deps Deps) api.WorkflowDefinition {
	return api.WorkflowDefinition{
		ID:         TriageWorkflowID,
		Trigger:    api.EventTicketCreated,
		MaxRetries: 2,
		Backoff:    deps.backoff(),
		Steps: []api.StepDefinition{
			{Label: StepLoadTicket, Fn: loadTicket(deps.Directory)},
			{Label: StepClassifyTicket, Fn: classifyTicket},
			{Label: StepAssignModerator, Fn: assignModerator(deps.Directory)},
			{Label: StepNotifyAssignee, Fn: notifyAssignee(deps)},
		},
	}
}

func loadTicket(dir directory.Directory) api.StepFunc {
	return func(ctx context.Context, sc *api.StepContext) (any, error) {
		p, err := api.PayloadAs[api.TicketCreated](sc)
		if err != nil {
			return nil, err
		}
		t, err := dir.FindTicket(ctx, p.TicketID)
		if errors.Is(err, directory.ErrTicketNotFound) {
			return nil, api.Terminal(fmt.Errorf("ticket %s: %w", p.TicketID, err))
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func classifyTicket(ctx context.Context, sc *api.StepContext) (any, error) {
	t, err := api.ResultAs[directory.Ticket](sc, StepLoadTicket)
	if err != nil {
		return nil, api.Terminal(err)
	}
	return Classify(t.Title, t.Description), nil
}

func assignModerator(dir directory.Directory) api.StepFunc {
	return func(ctx context.Context, sc *api.StepContext) (any, error) {
		t, err := api.ResultAs[directory.Ticket](sc, StepLoadTicket)
		if err != nil {
			return nil, api.Terminal(err)
		}
		c, err := api.ResultAs[Classification](sc, StepClassifyTicket)
		if err != nil {
			return nil, api.Terminal(err)
		}

		mod, err := dir.FindModerator(ctx, c.Skills)
		if errors.Is(err, directory.ErrNoAssignee) {
			return nil, api.Terminal(fmt.Errorf("ticket %s: %w", t.ID, err))
		}
		if err != nil {
			return nil, err
		}

		t.Priority = c.Priority
		t.RelatedSkills = c.Skills
		t.HelpfulNotes = c.Notes
		t.AssignedTo = mod.ID
		t.Status = directory.TicketInProgress
		if err := dir.UpdateTicket(ctx, t); err != nil {
			return nil, err
		}
		return Assignment{TicketID: t.ID, ModeratorID: mod.ID, ModeratorEmail: mod.Email}, nil
	}
}

func notifyAssignee(deps Deps) api.StepFunc {
	return func(ctx context.Context, sc *api.StepContext) (any, error) {
		t, err := api.ResultAs[directory.Ticket](sc, StepLoadTicket)
		if err != nil {
			return nil, api.Terminal(err)
		}
		c, err := api.ResultAs[Classification](sc, StepClassifyTicket)
		if err != nil {
			return nil, api.Terminal(err)
		}
		a, err := api.ResultAs[Assignment](sc, StepAssignModerator)
		if err != nil {
			return nil, api.Terminal(err)
		}

		subject := "Ticket assigned: " + t.Title
		body := fmt.Sprintf("Hi,\n\nA %s priority ticket has been assigned to you.\n\nTitle: %s\nSkills: %s\n\n%s",
			c.Priority, t.Title, strings.Join(c.Skills, ", "), t.Description)
		if err := deps.Mailer.Send(ctx, a.ModeratorEmail, subject, body); err != nil {
			return nil, sendError(err)
		}
		return Delivery{To: a.ModeratorEmail, Subject: subject}, nil
	}
}

var (
	highPriorityTerms = []string{"outage", " down", "urgent", "security", "data loss", "breach", "crash", "cannot log in", "can't log in"}
	lowPriorityTerms  = []string{"typo", "question", "cosmetic", "feature request", "suggestion"}

	// skillTerms maps a skill to words that suggest it.
	skillTerms = map[string][]string{
		"react":      {"react", "jsx", "component"},
		"css":        {"css", "layout", "style", "stylesheet"},
		"javascript": {"javascript", "js ", "node", "npm"},
		"go":         {"golang", " go "},
		"sql":        {"sql", "postgres", "mysql", "query"},
		"mongodb":    {"mongo"},
		"redis":      {"redis", "cache"},
		"auth":       {"login", "log in", "password", "oauth", "token", "auth"},
		"email":      {"email", "smtp", "mail"},
		"payments":   {"payment", "billing", "invoice", "refund"},
		"devops":     {"docker", "kubernetes", "deploy", "outage", " down"},
	}
)

// Classify assigns a priority and the skills needed from keywords in the
// title and description. Skills are sorted.
func Classify(title, description string) Classification {
	text := " " + strings.ToLower(title+" "+description) + " "

	priority := directory.PriorityMedium
	switch {
	case containsAny(text, highPriorityTerms):
		priority = directory.PriorityHigh
	case containsAny(text, lowPriorityTerms):
		priority = directory.PriorityLow
	}

	var skills []string
	for skill, terms := range skillTerms {
		if containsAny(text, terms) {
			skills = append(skills, skill)
		}
	}
	slices.Sort(skills)

	notes := "No specific skills detected; routed to an admin."
	if len(skills) > 0 {
		notes = "Likely needs: " + strings.Join(skills, ", ") + "."
	}
	return Classification{Priority: priority, Skills: skills, Notes: notes}
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
