package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/ticketflow/pkg/api"
	"github.com/petrijr/ticketflow/pkg/directory"
)

const (
	SignupWorkflowID = "on-user-signup"

	StepGetUserEmail     = "get-user-email"
	StepSendWelcomeEmail = "send-welcome-email"

	WelcomeSubject = "Welcome to the app"
	WelcomeBody    = "Hi,\n\nThanks for signing up. We're glad to have you onboard!"
)

// Signup sends a welcome email to a newly registered user. A user that no
// longer exists fails the run without retries; mail failures are retried
// twice.
func Signup(deps Deps) api.WorkflowDefinition {
	return api.WorkflowDefinition{
		ID:         SignupWorkflowID,
		Trigger:    api.EventUserSignup,
		MaxRetries: 2,
		Backoff:    deps.backoff(),
		Steps: []api.StepDefinition{
			{Label: StepGetUserEmail, Fn: getUser(deps.Directory)},
			{Label: StepSendWelcomeEmail, Fn: sendWelcome(deps)},
		},
	}
}

func getUser(dir directory.Directory) api.StepFunc {
	return func(ctx context.Context, sc *api.StepContext) (any, error) {
		p, err := api.PayloadAs[api.UserSignup](sc)
		if err != nil {
			return nil, err
		}
		u, err := dir.FindUserByEmail(ctx, p.Email)
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, api.Terminal(fmt.Errorf("user %s no longer exists: %w", p.Email, err))
		}
		if err != nil {
			return nil, err
		}
		return u, nil
	}
}

func sendWelcome(deps Deps) api.StepFunc {
	return func(ctx context.Context, sc *api.StepContext) (any, error) {
		u, err := api.ResultAs[directory.User](sc, StepGetUserEmail)
		if err != nil {
			return nil, api.Terminal(err)
		}
		if err := deps.Mailer.Send(ctx, u.Email, WelcomeSubject, WelcomeBody); err != nil {
			return nil, sendError(err)
		}
		return Delivery{To: u.Email, Subject: WelcomeSubject}, nil
	}
}
