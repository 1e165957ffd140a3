package internal

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// BestEffort runs a side-channel step whose failure must never change the
// outcome of the caller. Errors and panics are logged and dropped.
func BestEffort(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Warn("best-effort step panicked", zap.String("step", name), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := fn(ctx); err != nil {
		Logger().Warn("best-effort step failed", zap.String("step", name), zap.Error(err))
	}
}

// BestEffortValue is BestEffort for steps that produce a value. The zero value
// is returned on failure.
func BestEffortValue[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) T {
	var out T
	BestEffort(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out
}
