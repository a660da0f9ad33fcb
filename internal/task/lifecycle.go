package task

import "context"

// Lifecycle is the set of hooks a task may override. Task.Run calls them
// in the order reserve -> acquire -> initialize -> activation -> main loop
// -> deactivation -> release, mirroring the construction/teardown sequence
// in §3 of the core's data model. OnUpdateParameters is not called by Run.
type Lifecycle interface {
	OnEntityReservation(ctx context.Context) error
	OnResourceAcquisition(ctx context.Context) error
	OnResourceInitialization(ctx context.Context) error
	OnResourceRelease(ctx context.Context) error
	OnUpdateParameters(ctx context.Context) error
	OnActivation(ctx context.Context) error
	OnDeactivation(ctx context.Context) error
	// OnMain runs once per loop iteration, after any pending messages for
	// this iteration have been drained and any due tick has fired. A task
	// that has nothing to do outside of message handlers and tick leaves
	// this as a no-op.
	OnMain(ctx context.Context) error
}

// NoopLifecycle implements Lifecycle with no-ops, so a task only needs to
// override the hooks it cares about by embedding this and shadowing the
// rest.
type NoopLifecycle struct{}

func (NoopLifecycle) OnEntityReservation(ctx context.Context) error    { return nil }
func (NoopLifecycle) OnResourceAcquisition(ctx context.Context) error  { return nil }
func (NoopLifecycle) OnResourceInitialization(ctx context.Context) error { return nil }
func (NoopLifecycle) OnResourceRelease(ctx context.Context) error      { return nil }
func (NoopLifecycle) OnUpdateParameters(ctx context.Context) error     { return nil }
func (NoopLifecycle) OnActivation(ctx context.Context) error           { return nil }
func (NoopLifecycle) OnDeactivation(ctx context.Context) error         { return nil }
func (NoopLifecycle) OnMain(ctx context.Context) error                 { return nil }
