// Package slack posts operator alerts to an incoming-webhook channel.
package slack

import "context"

type Provider interface {
	PostMessage(ctx context.Context, message string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) PostMessage(_ context.Context, _ string) error {
	return nil
}
