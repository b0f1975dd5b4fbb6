// Package engine runs a compositor on a goroutine of its own.
//
// # Overview
//
// The compositor is confined to a single logical thread. The Driver owns
// that thread: it runs scheduling cycles and executes every external call
// (stream configuration, output renegotiation, control events and option
// reloads) between two cycles, never concurrently with one.
//
//	producers ──► Configure / HandleEvent ──┐
//	caps requests ──► Renegotiate ──────────┤ command channel
//	option store ──► UpdateOptions ─────────┘
//	                                         ▼
//	                               ┌──────────────────┐
//	                               │  driver loop     │
//	                               │  RunCycle ◄──┐   │
//	                               │     │        │   │
//	                               │  Result ─────┘   │
//	                               └──────────────────┘
//
// # Re-activation
//
// RunCycle returns an explicit result. ContinueNow re-runs the cycle at the
// next opportunity, after pending commands have been served. ContinueAfter
// waits for the requested delay unless a command arrives first. Terminated
// stops cycling: Done is closed, the driver keeps serving commands until
// Stop is called.
//
// # Lifecycle
//
// Driver implements component.LifecycleComponent:
//
//	d, _ := engine.New("compositor", comp, vout, aout, deps)
//	_ = d.Initialize()           // declares the output ports
//	_ = d.Start(ctx)             // launches the loop
//	_ = d.Configure(ctx, in, false)
//	<-d.Done()                   // presentation terminated
//	_ = d.Stop(5 * time.Second)  // finalizes the compositor
package engine
