package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownJob rejects envelopes whose name the bridge does not recognize.
var ErrUnknownJob = errors.New("queue: unknown job name")

// Handlers collects the engine entrypoints the bridge dispatches to. The
// count-returning handlers report how many items they produced, for metrics.
type Handlers struct {
	ClassifyResource func(ctx context.Context, resourceID string) error
	MatchResources   func(ctx context.Context) (int, error)
	Populate         func(ctx context.Context) (int, error)
	Assign           func(ctx context.Context) (int, error)
	Cleanup          func(ctx context.Context) (int, error)
	AutoComplete     func(ctx context.Context) (int, error)
}

// Bridge is the sole parser of job payloads: it maps a wire envelope onto a
// typed handler call.
type Bridge struct {
	handlers Handlers
}

func NewBridge(handlers Handlers) *Bridge {
	return &Bridge{handlers: handlers}
}

type classifyPayload struct {
	ResourceID string `json:"resourceId"`
}

// Dispatch executes one job. Unknown names and malformed payloads are
// terminal errors: retrying cannot fix them.
func (b *Bridge) Dispatch(ctx context.Context, job *Job) error {
	switch job.Name {
	case JobClassifyResource:
		var p classifyPayload
		if err := json.Unmarshal(job.Data, &p); err != nil {
			return fmt.Errorf("parse %s payload: %w", job.Name, err)
		}
		if p.ResourceID == "" {
			return fmt.Errorf("%s job %s carries no resourceId", job.Name, job.ID)
		}
		return b.handlers.ClassifyResource(ctx, p.ResourceID)
	case JobMatchResources:
		_, err := b.handlers.MatchResources(ctx)
		return err
	case JobPopulatePotentialMatches:
		_, err := b.handlers.Populate(ctx)
		return err
	case JobAssignErrand:
		_, err := b.handlers.Assign(ctx)
		return err
	case JobCleanupTimedOutMatches:
		_, err := b.handlers.Cleanup(ctx)
		return err
	case JobAutoCompleteMatch:
		_, err := b.handlers.AutoComplete(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job.Name)
	}
}
