package ticketflow

import (
	"fmt"

	"github.com/petrijr/ticketflow/pkg/api"
	"github.com/petrijr/ticketflow/pkg/backoff"
)

// FlowBuilder provides a fluent API for defining workflows:
//
//	flow := ticketflow.New("on-user-signup").
//	    On("user/signup").
//	    Retries(2).
//	    Step("get-user-email", getUserEmail).
//	    Step("send-welcome-email", sendWelcomeEmail)
//
//	if err := flow.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
type FlowBuilder struct {
	def api.WorkflowDefinition
}

// New creates a new workflow builder with the given id.
func New(id string) *FlowBuilder {
	return &FlowBuilder{
		def: api.WorkflowDefinition{
			ID:    id,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// ID returns the workflow id.
func (b *FlowBuilder) ID() string {
	return b.def.ID
}

// Definition returns the underlying WorkflowDefinition.
// Typically used when interacting with lower-level APIs.
func (b *FlowBuilder) Definition() WorkflowDefinition {
	def := b.def
	def.Steps = append([]api.StepDefinition(nil), b.def.Steps...)
	return def
}

// On sets the event name that triggers the workflow.
func (b *FlowBuilder) On(eventName string) *FlowBuilder {
	b.def.Trigger = eventName
	return b
}

// Retries sets how many times a failed run is re-attempted.
func (b *FlowBuilder) Retries(n int) *FlowBuilder {
	b.def.MaxRetries = n
	return b
}

// Backoff sets the delay strategy between attempts.
func (b *FlowBuilder) Backoff(s backoff.Strategy) *FlowBuilder {
	b.def.Backoff = s
	return b
}

// Retry applies a RetryBuilder's budget and backoff.
func (b *FlowBuilder) Retry(r RetryBuilder) *FlowBuilder {
	b.def.MaxRetries = r.retries
	b.def.Backoff = r.strategy
	return b
}

// Step appends a labelled step to the workflow.
func (b *FlowBuilder) Step(label string, fn StepFunc) *FlowBuilder {
	if label == "" {
		panic("ticketflow: step label must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("ticketflow: step %q has nil function", label))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Label: label,
		Fn:    fn,
	})
	return b
}

// Register registers the built workflow with the given engine.
func (b *FlowBuilder) Register(eng Engine) error {
	return eng.RegisterWorkflow(b.Definition())
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
