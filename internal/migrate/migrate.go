// Package migrate applies an ordered, append-only list of schema steps.
//
// The schema version is the number of steps applied. A fresh store is at
// version 0. Run applies every missing step and advances the version inside
// a single unit of work supplied by the backend, so an upgrade either
// completes or leaves the store untouched. A stored version newer than the
// code knows about is a fatal error; there is no downgrade path.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Step is one migration. Steps are never reordered or removed once released.
type Step[T any] struct {
	Name string
	Up   func(ctx context.Context, tx T) error
}

// Backend supplies the transaction and version storage for a store engine.
type Backend[T any] interface {
	// Update runs fn in one atomic unit of work.
	Update(ctx context.Context, fn func(tx T) error) error

	// Version returns the stored version, 0 if none was ever stored.
	Version(ctx context.Context, tx T) (int, error)

	SetVersion(ctx context.Context, tx T, version int) error
}

// Result reports what Run did.
type Result struct {
	From int
	To   int
}

// Applied reports whether any step ran.
func (r Result) Applied() bool {
	return r.To > r.From
}

// VersionError reports a stored version the code does not know.
type VersionError struct {
	Stored int
	Target int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("stored schema version %d is newer than supported version %d", e.Stored, e.Target)
}

// StepError reports the step that failed.
type StepError struct {
	Version int
	Name    string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration %d (%s): %v", e.Version, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Validate rejects unnamed or duplicate steps.
func Validate[T any](steps []Step[T]) error {
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.Name == "" {
			return fmt.Errorf("migration %d has no name", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate migration name %q", s.Name)
		}
		if s.Up == nil {
			return fmt.Errorf("migration %q has no body", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Run brings the store to len(steps).
func Run[T any](ctx context.Context, b Backend[T], steps []Step[T], logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := Validate(steps); err != nil {
		return Result{}, err
	}

	target := len(steps)
	var res Result
	err := b.Update(ctx, func(tx T) error {
		current, err := b.Version(ctx, tx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		res = Result{From: current, To: current}

		if current > target {
			return &VersionError{Stored: current, Target: target}
		}
		if current == target {
			return nil
		}

		for v := current; v < target; v++ {
			step := steps[v]
			if err := ctx.Err(); err != nil {
				return err
			}
			logger.Debug("applying migration", "version", v+1, "name", step.Name)
			if err := step.Up(ctx, tx); err != nil {
				return &StepError{Version: v + 1, Name: step.Name, Err: err}
			}
		}

		if err := b.SetVersion(ctx, tx, target); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		res.To = target
		return nil
	})
	if err != nil {
		return Result{From: res.From, To: res.From}, err
	}

	if res.Applied() {
		logger.Info("schema migrated", "from", res.From, "to", res.To)
	}
	return res, nil
}

// Statements returns a step body that executes each statement in order.
func Statements(stmts ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
			}
		}
		return nil
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
