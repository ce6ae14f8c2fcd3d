package tripload

import (
	"context"
	"time"
)

type contextKey string

const runKey contextKey = "run"

type runInfo struct {
	started time.Time
}

func withRun(ctx context.Context) context.Context {
	return context.WithValue(ctx, runKey, runInfo{started: time.Now()})
}

func runFrom(ctx context.Context) (runInfo, bool) {
	r, ok := ctx.Value(runKey).(runInfo)
	return r, ok
}

func elapsed(ctx context.Context) time.Duration {
	r, ok := runFrom(ctx)
	if !ok {
		return 0
	}
	return time.Since(r.started)
}
