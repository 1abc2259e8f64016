package directory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is an in-process Directory for development and tests.
type MemoryDirectory struct {
	mu      sync.RWMutex
	users   map[string]User // by normalized email
	tickets map[string]Ticket
	now     func() time.Time
}

var _ Store = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:   make(map[string]User),
		tickets: make(map[string]Ticket),
		now:     time.Now,
	}
}

// PutUser inserts or replaces u, keyed by email.
func (d *MemoryDirectory) PutUser(u User) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = d.now()
	}
	u.Skills = slices.Clone(u.Skills)
	d.mu.Lock()
	d.users[normalizeEmail(u.Email)] = u
	d.mu.Unlock()
}

// PutTicket inserts or replaces t.
func (d *MemoryDirectory) PutTicket(t Ticket) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = d.now()
	}
	if t.Status == "" {
		t.Status = TicketTodo
	}
	t.RelatedSkills = slices.Clone(t.RelatedSkills)
	d.mu.Lock()
	d.tickets[t.ID] = t
	d.mu.Unlock()
}

func (d *MemoryDirectory) SaveUser(ctx context.Context, u User) error {
	d.PutUser(u)
	return nil
}

func (d *MemoryDirectory) SaveTicket(ctx context.Context, t Ticket) error {
	d.PutTicket(t)
	return nil
}

func (d *MemoryDirectory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[normalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) FindTicket(ctx context.Context, id string) (Ticket, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tickets[id]
	if !ok {
		return Ticket{}, ErrTicketNotFound
	}
	return t, nil
}

func (d *MemoryDirectory) FindUser(ctx context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (d *MemoryDirectory) ListTickets(ctx context.Context, createdBy string) ([]Ticket, error) {
	d.mu.RLock()
	out := make([]Ticket, 0, len(d.tickets))
	for _, t := range d.tickets {
		if createdBy == "" || t.CreatedBy == createdBy {
			t.RelatedSkills = slices.Clone(t.RelatedSkills)
			out = append(out, t)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (d *MemoryDirectory) UpdateTicket(ctx context.Context, t Ticket) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tickets[t.ID]; !ok {
		return ErrTicketNotFound
	}
	t.UpdatedAt = d.now()
	t.RelatedSkills = slices.Clone(t.RelatedSkills)
	d.tickets[t.ID] = t
	return nil
}

func (d *MemoryDirectory) FindModerator(ctx context.Context, skills []string) (User, error) {
	d.mu.RLock()
	users := make([]User, 0, len(d.users))
	for _, u := range d.users {
		users = append(users, u)
	}
	d.mu.RUnlock()

	// Oldest account first, so the choice is stable.
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Email < users[j].Email
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	for _, u := range users {
		if u.Role == RoleModerator && hasAnySkill(u.Skills, skills) {
			return u, nil
		}
	}
	for _, u := range users {
		if u.Role == RoleAdmin {
			return u, nil
		}
	}
	return User{}, ErrNoAssignee
}
