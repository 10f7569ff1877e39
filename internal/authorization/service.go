// Package authorization enforces role-based access over the operator
// control plane.
package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service answers "may this actor perform this action on this object".
// Actors are "system" for scheduler and console work, "operator:<id>"
// for staff, "viewer:<id>" for read-only staff.
type Service interface {
	Authorize(ctx context.Context, actor, object, action string) error
}
