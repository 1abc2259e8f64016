// Package workflows defines the intake workflows: a welcome email on
// signup and triage of newly created tickets.
package workflows

import (
	"encoding/gob"
	"errors"

	"github.com/petrijr/ticketflow/pkg/api"
	"github.com/petrijr/ticketflow/pkg/backoff"
	"github.com/petrijr/ticketflow/pkg/directory"
	"github.com/petrijr/ticketflow/pkg/notify"
)

func init() {
	// Step results are recorded with gob.
	gob.Register(directory.User{})
	gob.Register(directory.Ticket{})
	gob.Register(Classification{})
	gob.Register(Assignment{})
	gob.Register(Delivery{})
}

// Deps are the collaborators the workflows call.
type Deps struct {
	Directory directory.Directory
	Mailer    notify.Mailer

	// Backoff between whole-run retries. Nil means backoff.Default().
	Backoff backoff.Strategy
}

func (d Deps) backoff() backoff.Strategy {
	if d.Backoff == nil {
		return backoff.Default()
	}
	return d.Backoff
}

// Delivery is the result of a step that sent an email.
type Delivery struct {
	To      string
	Subject string
}

// Register adds every intake workflow to eng.
func Register(eng api.Engine, deps Deps) error {
	return errors.Join(
		eng.RegisterWorkflow(Signup(deps)),
		eng.RegisterWorkflow(TicketTriage(deps)),
	)
}

// sendError classifies a mailer failure.
func sendError(err error) error {
	if errors.Is(err, notify.ErrInvalidRecipient) {
		return api.Terminal(err)
	}
	return err
}
