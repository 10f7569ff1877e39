// Package email delivers lifecycle notifications to tenant owners.
package email

import "context"

type Message struct {
	To      []string
	Subject string
	Body    string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// NoOpProvider drops every message. Used when no SMTP host is configured.
type NoOpProvider struct{}

func (p *NoOpProvider) Send(_ context.Context, _ Message) error {
	return nil
}
