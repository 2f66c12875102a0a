package safe

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"LobbyHub/logger"
	"LobbyHub/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required dependencies during construction.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// DefaultDuration returns d, or fallback when d is not positive.
func DefaultDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// DefaultInt returns i, or fallback when i is not positive.
func DefaultInt(i, fallback int) int {
	if i <= 0 {
		return fallback
	}
	return i
}

// Go starts a named goroutine that recovers from panic,
// so that panics don't crash the entire program.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover logs a recovered panic. Use it as `defer safe.Recover("name")`.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			zap.String("goroutine", name),
			zap.Error(errs.ErrPanic(r)),
			zap.Stack("stack"),
		)
	}
}

// Loop runs fn every interval until ctx is done.
func Loop(ctx context.Context, name string, interval time.Duration, fn func(now time.Time)) {
	Go(name, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				fn(now)
			}
		}
	})
}
