package enforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ddos-guard/internal/model"
)

var (
	// ErrEnforcement wraps every failed block/unblock action.
	ErrEnforcement = errors.New("enforcement failed")
	// ErrInvalidSource is returned for identifiers that are not IP addresses.
	ErrInvalidSource = errors.New("invalid source identifier")
)

// Action is the enforcement verb carried by a Result.
type Action string

const (
	ActionBlock   Action = "block"
	ActionUnblock Action = "unblock"
)

// Gateway performs the privileged, external block/unblock actions.
// Implementations must be safe for concurrent use.
type Gateway interface {
	Name() string
	Block(ctx context.Context, source model.SourceIdentifier) Result
	Unblock(ctx context.Context, source model.SourceIdentifier) Result
}

// Result is the confirmed outcome of one gateway call.
type Result struct {
	Action   Action
	Source   model.SourceIdentifier
	Backend  string
	Err      error
	Duration time.Duration
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Error returns the wrapped failure, nil on success.
func (r Result) Error() error {
	if r.Err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s %s via %s: %v", ErrEnforcement, r.Action, r.Source, r.Backend, r.Err)
}

func newResult(action Action, source model.SourceIdentifier, backend string, start time.Time, err error) Result {
	return Result{
		Action:   action,
		Source:   source,
		Backend:  backend,
		Err:      err,
		Duration: time.Since(start),
	}
}
