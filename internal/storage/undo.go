package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Stores without multi-document transactions get atomicity from compensation:
// each write made inside WithinTransaction records how to undo itself, and a
// failed unit replays the undo steps newest first.

type undoKey struct{}

type undoLog struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) error
}

// recordUndo registers step on the undo log carried by ctx. Outside a
// compensated unit it does nothing.
func recordUndo(ctx context.Context, step func(ctx context.Context) error) {
	log, ok := ctx.Value(undoKey{}).(*undoLog)
	if !ok {
		return
	}
	log.mu.Lock()
	log.steps = append(log.steps, step)
	log.mu.Unlock()
}

func (l *undoLog) rollback(ctx context.Context) error {
	l.mu.Lock()
	steps := l.steps
	l.steps = nil
	l.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runCompensated runs fn and undoes its recorded writes if it fails. The
// rollback ignores cancellation of ctx so a timed-out request still cleans up.
func runCompensated(ctx context.Context, fn func(ctx context.Context) error) error {
	log := &undoLog{}
	err := fn(context.WithValue(ctx, undoKey{}, log))
	if err == nil {
		return nil
	}
	if rbErr := log.rollback(context.WithoutCancel(ctx)); rbErr != nil {
		return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
	}
	return err
}
