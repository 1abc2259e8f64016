package directory

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"
)

// directorySuite runs the same behaviour checks against every Directory.
type directorySuite struct {
	suite.Suite

	newDirectory func() (Store, func(User), func(Ticket))

	dir       Store
	putUser   func(User)
	putTicket func(Ticket)
	ctx       context.Context
}

func (s *directorySuite) SetupTest() {
	s.ctx = context.Background()
	s.dir, s.putUser, s.putTicket = s.newDirectory()
}

func (s *directorySuite) seedStaff() {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.putUser(User{ID: "admin", Email: "admin@example.com", Role: RoleAdmin, CreatedAt: base})
	s.putUser(User{ID: "mod-db", Email: "db@example.com", Role: RoleModerator, Skills: []string{"PostgreSQL", "MongoDB"}, CreatedAt: base.Add(time.Hour)})
	s.putUser(User{ID: "mod-web", Email: "web@example.com", Role: RoleModerator, Skills: []string{"react", "css"}, CreatedAt: base.Add(2 * time.Hour)})
	s.putUser(User{ID: "mod-web2", Email: "web2@example.com", Role: RoleModerator, Skills: []string{"React"}, CreatedAt: base.Add(3 * time.Hour)})
}

func (s *directorySuite) TestFindUserByEmail() {
	s.putUser(User{ID: "u1", Email: "Ada@Example.com", Role: RoleUser})

	u, err := s.dir.FindUserByEmail(s.ctx, "  ada@example.COM ")
	s.Require().NoError(err)
	s.Equal("u1", u.ID)

	_, err = s.dir.FindUserByEmail(s.ctx, "nobody@example.com")
	s.ErrorIs(err, ErrUserNotFound)
}

func (s *directorySuite) TestTicketRoundTrip() {
	s.putTicket(Ticket{ID: "t1", Title: "Login broken", Description: "500 on submit", CreatedBy: "u1"})

	t, err := s.dir.FindTicket(s.ctx, "t1")
	s.Require().NoError(err)
	s.Equal(TicketTodo, t.Status)
	s.Equal("Login broken", t.Title)

	t.Priority = PriorityHigh
	t.AssignedTo = "mod-web"
	t.Status = TicketInProgress
	s.Require().NoError(s.dir.UpdateTicket(s.ctx, t))

	got, err := s.dir.FindTicket(s.ctx, "t1")
	s.Require().NoError(err)
	s.Equal(PriorityHigh, got.Priority)
	s.Equal("mod-web", got.AssignedTo)
	s.Equal(TicketInProgress, got.Status)
	s.False(got.UpdatedAt.IsZero())
}

func (s *directorySuite) TestMissingTicket() {
	_, err := s.dir.FindTicket(s.ctx, "nope")
	s.ErrorIs(err, ErrTicketNotFound)

	err = s.dir.UpdateTicket(s.ctx, Ticket{ID: "nope"})
	s.ErrorIs(err, ErrTicketNotFound)
}

func (s *directorySuite) TestFindModeratorBySkill() {
	s.seedStaff()

	u, err := s.dir.FindModerator(s.ctx, []string{"mongodb"})
	s.Require().NoError(err)
	s.Equal("mod-db", u.ID)

	// Two moderators know React; the older account wins.
	u, err = s.dir.FindModerator(s.ctx, []string{"kubernetes", "REACT"})
	s.Require().NoError(err)
	s.Equal("mod-web", u.ID)
}

func (s *directorySuite) TestFindModeratorFallsBackToAdmin() {
	s.seedStaff()

	u, err := s.dir.FindModerator(s.ctx, []string{"cobol"})
	s.Require().NoError(err)
	s.Equal("admin", u.ID)

	u, err = s.dir.FindModerator(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal("admin", u.ID)
}

func (s *directorySuite) TestFindModeratorWithoutStaff() {
	s.putUser(User{ID: "u1", Email: "ada@example.com", Role: RoleUser, Skills: []string{"go"}})

	_, err := s.dir.FindModerator(s.ctx, []string{"go"})
	s.ErrorIs(err, ErrNoAssignee)
}

func (s *directorySuite) TestFindUserByID() {
	s.seedStaff()

	u, err := s.dir.FindUser(s.ctx, "mod-db")
	s.Require().NoError(err)
	s.Equal("db@example.com", u.Email)

	_, err = s.dir.FindUser(s.ctx, "nobody")
	s.ErrorIs(err, ErrUserNotFound)
}

func (s *directorySuite) TestListTicketsNewestFirst() {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.putTicket(Ticket{ID: "t1", Title: "a", CreatedBy: "u1", CreatedAt: base})
	s.putTicket(Ticket{ID: "t2", Title: "b", CreatedBy: "u2", CreatedAt: base.Add(time.Hour)})
	s.putTicket(Ticket{ID: "t3", Title: "c", CreatedBy: "u1", CreatedAt: base.Add(2 * time.Hour)})

	all, err := s.dir.ListTickets(s.ctx, "")
	s.Require().NoError(err)
	s.Equal([]string{"t3", "t2", "t1"}, ticketIDs(all))

	mine, err := s.dir.ListTickets(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal([]string{"t3", "t1"}, ticketIDs(mine))

	none, err := s.dir.ListTickets(s.ctx, "u9")
	s.Require().NoError(err)
	s.Empty(none)
}

func ticketIDs(ts []Ticket) []string {
	ids := make([]string, 0, len(ts))
	for _, t := range ts {
		ids = append(ids, t.ID)
	}
	return ids
}
