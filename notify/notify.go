/*
Package notify delivers settlement outcomes to assignees.

PURPOSE:
  Fire-and-forget notification sink. Settlement never waits on a
  notification and never rolls back because one failed - a sink that
  errors just logs. The engine reports success, and on payment failure
  a message that distinguishes remediation: add funds vs re-authorize
  the signer vs restore the network.

IMPLEMENTATIONS:
  - Noop: the default when no transport is configured
  - NATS: publishes JSON messages to a subject (nats.go)

SEE ALSO:
  - work/service.go: The only producer of messages
*/
package notify

import "context"

// Message is one notification to an assignee.
type Message struct {
	AssigneeID string
	Subject    string
	Body       string
	Context    map[string]string
}

// Sink delivers messages. Implementations must never block settlement:
// failures are swallowed (logged) inside the sink.
type Sink interface {
	Notify(ctx context.Context, m Message)
}

// =============================================================================
// NOOP SINK
// =============================================================================

// Noop discards every message.
type Noop struct{}

func (Noop) Notify(context.Context, Message) {}
