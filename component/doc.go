// Package component provides the shared infrastructure that every mediacompose
// runtime unit is built on: injected dependencies, lifecycle state, and the
// Discoverable contract the management surface uses to describe a running unit.
//
// # Dependencies
//
// Components receive their external collaborators through a single
// Dependencies value rather than individual constructor arguments:
//
//	deps := component.Dependencies{
//		NATSClient:      client,
//		MetricsRegistry: registry,
//		Logger:          logger,
//	}
//	comp, err := compositor.New("compositor", opts, collab, deps)
//
// Every field may be nil. GetLoggerWithComponent always returns a usable
// logger, and a nil MetricsRegistry disables metrics.
//
// # Lifecycle
//
// Long-running units implement LifecycleComponent:
//
//	Initialize() error                // create resources, no context
//	Start(ctx context.Context) error  // begin work under ctx
//	Stop(timeout time.Duration) error // graceful shutdown
//
// A component never stores the context it is started with beyond the
// goroutines that it spawns from it.
package component
