/*
nats.go - NATS notification sink

PURPOSE:
  Publishes settlement notifications as JSON onto a NATS subject, one
  message per event. Publish errors are logged and dropped; the sink
  never propagates failure back into settlement.

USAGE:
  nc, _ := nats.Connect(natsURL)
  sink := notify.NewNATS(nc, "settlement.events")

SEE ALSO:
  - notify.go: The Sink contract
*/
package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"
)

// NATS publishes messages to a subject on an existing connection.
type NATS struct {
	conn    *nats.Conn
	subject string
}

// NewNATS creates a sink on the given connection and subject.
func NewNATS(conn *nats.Conn, subject string) *NATS {
	return &NATS{conn: conn, subject: subject}
}

// Notify implements Sink. Fire-and-forget: errors are logged, never returned.
func (n *NATS) Notify(_ context.Context, m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("[Notify] marshal failed for assignee %s: %v", m.AssigneeID, err)
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		log.Printf("[Notify] publish failed for assignee %s: %v", m.AssigneeID, err)
	}
}
