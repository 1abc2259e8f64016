// Package directory looks up the users and tickets that the intake
// workflows act on.
package directory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	ErrUserNotFound   = errors.New("directory: user not found")
	ErrTicketNotFound = errors.New("directory: ticket not found")

	// ErrNoAssignee is returned by FindModerator when neither a matching
	// moderator nor an admin exists.
	ErrNoAssignee = errors.New("directory: no moderator or admin available")
)

// Role of a user account.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// User is an account that can open or be assigned tickets.
type User struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Role      Role      `bson:"role"`
	Skills    []string  `bson:"skills,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

// Ticket statuses.
const (
	TicketTodo       = "TODO"
	TicketInProgress = "IN_PROGRESS"
	TicketDone       = "DONE"
)

// Ticket priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Ticket is a support request.
type Ticket struct {
	ID            string    `bson:"_id"`
	Title         string    `bson:"title"`
	Description   string    `bson:"description"`
	CreatedBy     string    `bson:"created_by"`
	Status        string    `bson:"status"`
	Priority      string    `bson:"priority,omitempty"`
	RelatedSkills []string  `bson:"related_skills,omitempty"`
	HelpfulNotes  string    `bson:"helpful_notes,omitempty"`
	AssignedTo    string    `bson:"assigned_to,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// Directory is the record store the workflows read and update.
type Directory interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindTicket(ctx context.Context, id string) (Ticket, error)

	// UpdateTicket replaces an existing ticket. It fails with
	// ErrTicketNotFound when the ticket does not exist.
	UpdateTicket(ctx context.Context, t Ticket) error

	// FindModerator returns a moderator with at least one of skills
	// (case-insensitive), falling back to any admin.
	FindModerator(ctx context.Context, skills []string) (User, error)
}

// Store is a Directory that also accepts new records and lists them.
type Store interface {
	Directory
	SaveUser(ctx context.Context, u User) error
	SaveTicket(ctx context.Context, t Ticket) error

	// FindUser looks a user up by ID.
	FindUser(ctx context.Context, id string) (User, error)

	// ListTickets returns tickets newest first, only those opened by
	// createdBy when it is non-empty.
	ListTickets(ctx context.Context, createdBy string) ([]Ticket, error)
}

// normalizeEmail is applied on both write and lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hasAnySkill(have, want []string) bool {
	for _, w := range want {
		if slices.ContainsFunc(have, func(h string) bool { return strings.EqualFold(h, w) }) {
			return true
		}
	}
	return false
}
