package catalog

import (
	"context"
	"log/slog"
)

// undoFunc reverses one committed step
type undoFunc func(ctx context.Context) error

type compensation struct {
	name string
	undo undoFunc
}

// saga collects undo actions for the steps of one operation. Rollback runs
// them newest first; Commit drops them once the terminal write succeeded.
type saga struct {
	op     string
	logger *slog.Logger
	steps  []compensation
}

func newSaga(op string, logger *slog.Logger) *saga {
	return &saga{op: op, logger: logger}
}

// Defer registers the undo action of a step that just succeeded
func (s *saga) Defer(name string, undo undoFunc) {
	s.steps = append(s.steps, compensation{name: name, undo: undo})
}

// Commit forgets every pending undo action
func (s *saga) Commit() {
	s.steps = nil
}

// Rollback runs pending undo actions in reverse order. Failures are logged
// and returned but never stop the remaining actions. The undo actions run
// detached from ctx cancellation so an aborted request still cleans up.
func (s *saga) Rollback(ctx context.Context, cause error) []error {
	if len(s.steps) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var failed []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(ctx); err != nil {
			s.logger.Warn("Compensation failed",
				"op", s.op, "step", step.name, "error", err, "cause", cause)
			failed = append(failed, err)
			continue
		}
		s.logger.Debug("Compensation applied", "op", s.op, "step", step.name)
	}
	s.steps = nil
	return failed
}
