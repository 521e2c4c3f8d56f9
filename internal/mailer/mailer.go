// Package mailer holds the outbound email contracts: the transport Sender
// and the content Drafter. Both are narrow interfaces; the engine never
// inspects prose and never retries a send.
package mailer

import "context"

// Message is a fully rendered outbound email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// Sender delivers one message and returns the provider's message id. It is
// treated as opaque, possibly slow and possibly failing; implementations
// carry their own timeout.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}
