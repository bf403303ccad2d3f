package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/model"
)

// hookTimeout bounds a single hook invocation.
const hookTimeout = 30 * time.Second

// Transition describes one committed change to a ledger entity.
type Transition struct {
	Entity string    `json:"entity"`
	ID     uuid.UUID `json:"id"`
	Op     string    `json:"op"`
	// From is empty for creations; To is empty for deletions.
	From string    `json:"from,omitempty"`
	To   string    `json:"to,omitempty"`
	At   time.Time `json:"at"`
}

// Hook receives committed transitions. Hooks run in their own goroutines and
// must not block indefinitely; their failures are logged and never affect
// the mutation that triggered them.
type Hook interface {
	OnTransition(ctx context.Context, t Transition) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, t Transition) error

// OnTransition implements Hook.
func (f HookFunc) OnTransition(ctx context.Context, t Transition) error { return f(ctx, t) }

// taskOutcome is recorded for task completions and failures.
type taskOutcome struct {
	task     model.Task
	duration time.Duration
}

// recorder collects the side effects of one transaction attempt.
type recorder struct {
	transitions []Transition
	outcomes    []taskOutcome
}

func (r *recorder) reset() {
	r.transitions = r.transitions[:0]
	r.outcomes = r.outcomes[:0]
}

func (r *recorder) add(entity string, id uuid.UUID, op, from, to string, at time.Time) {
	r.transitions = append(r.transitions, Transition{Entity: entity, ID: id, Op: op, From: from, To: to, At: at})
}

func (r *recorder) outcome(t model.Task) {
	start := t.CreatedAt
	if t.StartedAt != nil {
		start = *t.StartedAt
	}
	end := start
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	r.outcomes = append(r.outcomes, taskOutcome{task: t, duration: end.Sub(start)})
}

// publish emits the committed side effects of op.
func (s *Service) publish(ctx context.Context, op string, rec recorder) {
	for _, t := range rec.transitions {
		s.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity", t.Entity),
			attribute.String("op", t.Op),
		))
		if s.logs != nil {
			meta, err := json.Marshal(t)
			if err != nil {
				meta = nil
			}
			s.logs.Append(model.LevelInfo, "ledger", fmt.Sprintf("%s %s %s", t.Entity, t.ID, t.Op), meta)
		}
		for _, h := range s.hooks {
			s.hooksWG.Add(1)
			go func(h Hook, t Transition) {
				defer s.hooksWG.Done()
				hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
				defer cancel()
				if err := h.OnTransition(hctx, t); err != nil {
					s.logger.Warn("ledger: transition hook failed",
						"op", op, "entity", t.Entity, "id", t.ID, "error", err)
				}
			}(h, t)
		}
	}

	for _, o := range rec.outcomes {
		agent := ""
		if o.task.AgentID != nil {
			agent = o.task.AgentID.String()
		}
		seconds := o.duration.Seconds()
		s.taskDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", string(o.task.Status))))
		if s.metrics != nil {
			s.metrics.Record("kiroku.task.duration", seconds, "s", map[string]string{
				"workflow_id": o.task.WorkflowID.String(),
				"agent_id":    agent,
				"status":      string(o.task.Status),
			})
		}
	}
}
