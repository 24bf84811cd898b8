// Package engine runs optimized plans. The Dispatcher lowers a plan for the
// first executor able to run all of it and streams the executor's output.
package engine

import (
	"context"
	"errors"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/planner"
)

var (
	// ErrDispatcherClosed is returned when running a query after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrUnknownExecutor is returned when the preference names an executor
	// that was not registered.
	ErrUnknownExecutor = errors.New("unknown executor")
)

// Executor runs physical plans. The capability methods are consulted by
// lowering before Execute is called.
type Executor interface {
	planner.Capability

	// Execute starts running plan. The returned stream produces batches
	// matching plan's schema; closing it before the end must stop any work
	// the executor started.
	Execute(ctx context.Context, plan planner.PhysicalPlan) (batch.Stream, error)
}
