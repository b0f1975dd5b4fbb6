package compositor

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/c360/mediacompose/errors"
	"github.com/c360/mediacompose/media"
)

// MaxInteractiveWait bounds the re-activation delay in interactive mode.
const MaxInteractiveWait = 100 * time.Millisecond

// Phase is the end-of-stream arming state. It only moves forward.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseArmed
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseArmed:
		return "armed"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// DurationPolicy is the signed generation limit: negative values count
// frames, positive values count seconds of presentation time and zero stops
// once the scene reports it is exhausted.
type DurationPolicy float64

// Frames returns the frame limit of a negative policy.
func (d DurationPolicy) Frames() (uint64, bool) {
	if d < 0 {
		return uint64(-d), true
	}
	return 0, false
}

// Seconds returns the time limit of a positive policy.
func (d DurationPolicy) Seconds() (float64, bool) {
	if d > 0 {
		return float64(d), true
	}
	return 0, false
}

// SceneDriven reports whether the scene decides when generation ends.
func (d DurationPolicy) SceneDriven() bool { return d == 0 }

func (d DurationPolicy) String() string {
	if n, ok := d.Frames(); ok {
		return fmt.Sprintf("%d frames", n)
	}
	if s, ok := d.Seconds(); ok {
		return fmt.Sprintf("%gs", s)
	}
	return "scene"
}

// Verdict tells the driver what to do after a cycle.
type Verdict int

const (
	// VerdictContinue asks for another activation.
	VerdictContinue Verdict = iota
	// VerdictTerminated means every later activation is a no-op.
	VerdictTerminated
)

// Result is the outcome of RunCycle.
type Result struct {
	Verdict Verdict
	// After is the earliest next activation; zero means as soon as possible.
	After time.Duration
}

// ContinueNow requests re-activation at the next scheduling opportunity.
func ContinueNow() Result { return Result{Verdict: VerdictContinue} }

// ContinueAfter requests re-activation no sooner than d.
func ContinueAfter(d time.Duration) Result { return Result{Verdict: VerdictContinue, After: d} }

// Terminated is the terminal result.
func Terminated() Result { return Result{Verdict: VerdictTerminated} }

// Done reports whether r is terminal.
func (r Result) Done() bool { return r.Verdict == VerdictTerminated }

// RunCycle performs one scheduling activation. Errors from systems inputs and
// frame production are accumulated and returned once the cycle's bookkeeping
// is complete. A terminated compositor returns ErrEndOfStream without side
// effects.
func (c *Compositor) RunCycle() (Result, error) {
	if !c.initialized {
		return Result{}, errors.WrapInvalid(errors.ErrBadParameter, "Compositor", "RunCycle", "check instance")
	}
	return c.runCycle(c.pres)
}

func (c *Compositor) runCycle(pc *PresentationContext) (Result, error) {
	if c.phase == PhaseTerminated {
		return Terminated(), errors.ErrEndOfStream
	}

	start := time.Now()
	defer func() { c.metrics.recordCycle(time.Since(start)) }()

	var cycleErr error
	if c.reloadPending {
		c.reloadPending = false
		c.renderer.ReloadConfig(c.opts)
	}

	cycleErr = c.drainSystems()

	frame, err := c.renderer.DrawFrame()
	if err != nil {
		cycleErr = stderrors.Join(cycleErr, errors.Wrap(err, "Compositor", "RunCycle", "draw frame"))
	} else {
		c.elapsed = frame.Clock
	}
	if frame.Emitted {
		c.frameCount++
		c.metrics.recordFrame()
	}
	if cycleErr != nil {
		c.metrics.recordCycleError()
	}

	if c.opts.Player {
		// A negative hint is out of range, not "now".
		wait := frame.NextWakeup
		switch {
		case wait < 0 || wait > MaxInteractiveWait:
			wait = MaxInteractiveWait
		case wait == 0:
			wait = time.Microsecond
		}
		return ContinueAfter(wait), cycleErr
	}

	armedAtEntry := c.phase == PhaseArmed
	policy := DurationPolicy(c.opts.Duration)
	forced := false
	if limit, ok := policy.Frames(); ok {
		forced = c.frameCount >= limit
	} else if limit, ok := policy.Seconds(); ok {
		forced = c.elapsed.Seconds() >= limit
	} else if c.phase == PhaseRunning {
		c.advance(PhaseArmed)
	}
	if forced {
		c.advance(PhaseArmed)
	}

	if forced || (armedAtEntry && pc.Root() != nil && c.renderer.EndOfScene()) {
		c.terminate(cycleErr)
		return Terminated(), errors.ErrEndOfStream
	}
	return ContinueNow(), cycleErr
}

// drainSystems consumes at most one unit per tracked systems input and
// untracks inputs that reached end of stream.
func (c *Compositor) drainSystems() error {
	var errs error
	kept := make([]systemsInput, 0, len(c.systems))
	for _, s := range c.systems {
		if pkt, ok := s.in.Peek(); ok {
			if err := c.objects.ProcessSystems(s.obj, pkt); err != nil {
				errs = stderrors.Join(errs, errors.Wrap(err, "Compositor", "RunCycle", "process systems unit"))
			}
			s.in.Drop()
			kept = append(kept, s)
			continue
		}
		if s.in.IsEOS() {
			c.logger.Debug("Systems input drained", "port", s.in.ID(), "object", s.obj.ID)
			c.objects.OnEOS(s.obj, s.in)
			continue
		}
		kept = append(kept, s)
	}
	c.systems = kept
	return errs
}

func (c *Compositor) advance(p Phase) {
	if p > c.phase {
		c.phase = p
		c.metrics.updatePhase(p)
	}
}

func (c *Compositor) terminate(cycleErr error) {
	c.advance(PhaseTerminated)
	c.vout.SetEOS()
	for _, in := range c.inputs.Ports() {
		in.SendEvent(media.Event{Type: media.EventPlay})
		in.SendEvent(media.Event{Type: media.EventStop})
	}
	attrs := []any{"frames", c.frameCount, "elapsed", c.elapsed,
		"inputs", c.inputs.Len(), "attached", c.inputs.Attached()}
	if cycleErr != nil {
		attrs = append(attrs, "error", cycleErr)
	}
	c.logger.Info("Presentation terminated", attrs...)
}
