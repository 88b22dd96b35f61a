// Package engine implements the RunEngine: a single-run cooperative
// scheduler that pulls steps from a plan, dispatches them to capability
// handles resolved from a device registry, and publishes the resulting
// documents. Its state machine is mutated only by its own dispatch
// loop; every external input arrives over a single command channel,
// mirroring the teacher's per-tag state machine plus single ioLoop
// goroutine in internal/queue/runner.go.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easternanemone/daq-core/capability"
	"github.com/easternanemone/daq-core/config"
	"github.com/easternanemone/daq-core/document"
	"github.com/easternanemone/daq-core/internal/daqerr"
	"github.com/easternanemone/daq-core/internal/logging"
	"github.com/easternanemone/daq-core/internal/resilience"
	"github.com/easternanemone/daq-core/metrics"
	"github.com/easternanemone/daq-core/plan"
	"github.com/easternanemone/daq-core/registry"
)

// State is one of the RunEngine's five lifecycle stages.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateAborting State = "aborting"
	StateError    State = "error"
)

// OnError selects the engine's failure policy for a transient
// capability error during a step.
type OnError string

const (
	OnErrorRetry OnError = "retry"
	OnErrorSkip  OnError = "skip"
	OnErrorAbort OnError = "abort"
)

type controlKind string

const (
	controlPause  controlKind = "pause"
	controlResume controlKind = "resume"
	controlAbort  controlKind = "abort"
	controlHalt   controlKind = "halt"
)

// StatusUpdate is the engine's status feed record: its egress to
// orchestrators per spec.md's engine interface.
type StatusUpdate struct {
	State          State
	RunID          uuid.UUID
	CurrentEventNo uint64
	TotalExpected  int
}

// Result is what a run produces: the final status, how many events
// were emitted, the most recent Read value (for adaptive plans), and
// an error if the run failed.
type Result struct {
	RunID      uuid.UUID
	Status     document.Status
	Reason     string
	EventCount int
	LastRead   float64
	Err        error
}

type startRequest struct {
	plan     *plan.Plan
	metadata map[string]string
	onError  OnError
	result   chan Result
}

// Engine is the RunEngine. One Engine runs at most one plan at a time;
// additional RunPlan calls queue behind the channel that feeds the
// dispatch loop and execute serially, in arrival order.
type Engine struct {
	mu    sync.RWMutex
	state State

	registry *registry.Registry
	docs     *document.Stream
	retryCfg resilience.RetryConfig
	onError  OnError
	timeout  time.Duration

	requests chan startRequest
	control  chan controlKind
	status   chan StatusUpdate

	logger   *logging.Logger
	observer metrics.Observer
}

// New builds an Engine wired to reg for device dispatch and docs for
// document publication, configured per cfg.
func New(reg *registry.Registry, docs *document.Stream, cfg config.EngineConfig, observer metrics.Observer) *Engine {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	onError := OnError(cfg.DefaultOnError)
	if onError == "" {
		onError = OnErrorAbort
	}
	return &Engine{
		state:    StateIdle,
		registry: reg,
		docs:     docs,
		retryCfg: resilience.RetryConfig{
			MaxAttempts:  cfg.RetryMaxAttempts,
			InitialDelay: cfg.RetryInitialWait,
			MaxDelay:     cfg.RetryMaxWait,
			Multiplier:   2.0,
		},
		onError:  onError,
		timeout:  cfg.DispatchTimeout,
		requests: make(chan startRequest),
		control:  make(chan controlKind, 8),
		status:   make(chan StatusUpdate, 64),
		logger:   logging.Default(),
		observer: observer,
	}
}

// State returns the engine's current lifecycle stage.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Status returns the engine's status feed, for orchestrators to
// subscribe to without polling State.
func (e *Engine) Status() <-chan StatusUpdate { return e.status }

// Run starts the engine's dispatch loop, consuming start requests and
// control signals until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.requests:
			req.result <- e.runPlan(ctx, req)
		case sig := <-e.control:
			// A control signal with nothing running is a no-op; once a
			// plan is executing, runPlan reads directly from e.control.
			e.logger.Debug("control signal with no active run", "signal", string(sig))
		}
	}
}

// RunPlan validates and executes p synchronously, returning once the
// run reaches Stop. This is the engine's half of the YieldBridge
// rendezvous: package yieldbridge wraps this call with FIFO queueing
// for external callers.
func (e *Engine) RunPlan(ctx context.Context, p *plan.Plan, metadata map[string]string) (Result, error) {
	if err := p.Validate(e.registry); err != nil {
		return Result{}, err
	}

	// e.requests is unbuffered and drained by a single dispatch-loop
	// goroutine (Run), so a concurrent RunPlan call simply blocks here
	// until the engine is free — runs execute serially, FIFO.
	req := startRequest{plan: p, metadata: metadata, result: make(chan Result, 1)}
	e.requests <- req
	return <-req.result, nil
}

// Pause requests that the current run suspend after its in-flight
// step completes. It is a no-op if the engine is not running.
func (e *Engine) Pause() { e.sendControl(controlPause) }

// Resume continues a paused run from its next message.
func (e *Engine) Resume() { e.sendControl(controlResume) }

// Abort requests that the current run stop as soon as possible,
// attempting a best-effort safe-idle on every device it touched.
func (e *Engine) Abort() { e.sendControl(controlAbort) }

func (e *Engine) sendControl(kind controlKind) {
	select {
	case e.control <- kind:
	default:
		e.logger.Warn("control channel full, dropping signal", "signal", string(kind))
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// runPlan is the dispatch loop body for a single run. It owns the
// engine's state machine for the run's duration; only this goroutine
// (the one running Run's select loop) calls setState.
func (e *Engine) runPlan(ctx context.Context, req startRequest) Result {
	runID := uuid.New()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.setState(StateRunning)
	e.publishStatus(runID, len(req.plan.Steps))

	handles := map[string]*capability.Handle{}
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	onError := req.onError
	if onError == "" {
		onError = e.onError
	}

	result := Result{RunID: runID}
	eventCount := 0
	paused := false

	e.docs.Publish(runCtx, document.NewStart(runID, req.metadata))
	e.docs.Publish(runCtx, document.NewDescriptor(runID, descriptorFields(req.plan.Steps)))

	steps := req.plan.Stream(runCtx)
stepLoop:
	for {
		var step plan.Step
		var ok bool

		select {
		case step, ok = <-steps:
			if !ok {
				break stepLoop
			}
		case sig := <-e.control:
			switch sig {
			case controlPause:
				e.setState(StatePaused)
				paused = true
			case controlAbort, controlHalt:
				cancel()
				result = e.abortRun(runCtx, runID, handles, eventCount, "user_abort")
				return result
			case controlResume:
				// resume with nothing paused is a no-op
			}
			continue
		}

		if paused {
			// Block until Resume or Abort arrives before taking the step
			// already pulled from the plan's channel.
			for paused {
				sig := <-e.control
				switch sig {
				case controlResume:
					paused = false
					e.setState(StateRunning)
				case controlAbort, controlHalt:
					cancel()
					result = e.abortRun(runCtx, runID, handles, eventCount, "user_abort")
					return result
				}
			}
		}

		ev, stepErr, aborted, pauseRequested := e.dispatchWatchingControl(runCtx, cancel, runID, step, handles, onError)
		if aborted {
			result = e.abortRun(runCtx, runID, handles, eventCount, "user_abort")
			return result
		}
		if pauseRequested {
			paused = true
		}

		if stepErr != nil {
			// Retry-with-backoff (when configured) already ran inside
			// dispatch; reaching here means it exhausted its attempts, the
			// error is non-retryable, or the policy is abort outright. Only
			// an explicit skip policy survives a step error — everything
			// else is run-fatal.
			if onError == OnErrorSkip {
				e.observer.ObserveStep(0, false, true, false)
				continue
			}
			e.setState(StateError)
			e.docs.Publish(runCtx, document.NewStop(runID, document.StatusFail, stepErr.Error()))
			result.Status = document.StatusFail
			result.Reason = stepErr.Error()
			result.Err = stepErr
			result.EventCount = eventCount
			e.observer.ObserveStep(0, false, false, true)
			e.setState(StateIdle)
			return result
		}

		if ev != nil {
			e.docs.Publish(runCtx, *ev)
			eventCount++
			if step.Kind == plan.KindRead {
				if v, ok := ev.Values["value"].(float64); ok {
					result.LastRead = v
				}
				if branch := step.Branch; branch != nil && branch.Predicate(result.LastRead) {
					for _, action := range branch.ActionSteps {
						actionEv, actionErr, actionAborted, actionPause := e.dispatchWatchingControl(runCtx, cancel, runID, action, handles, onError)
						if actionAborted {
							result = e.abortRun(runCtx, runID, handles, eventCount, "user_abort")
							return result
						}
						if actionPause {
							paused = true
						}

						if actionErr != nil {
							if onError == OnErrorSkip {
								e.observer.ObserveStep(0, false, true, false)
								continue
							}
							e.setState(StateError)
							e.docs.Publish(runCtx, document.NewStop(runID, document.StatusFail, actionErr.Error()))
							result.Status = document.StatusFail
							result.Reason = actionErr.Error()
							result.Err = actionErr
							result.EventCount = eventCount
							e.observer.ObserveStep(0, false, false, true)
							e.setState(StateIdle)
							return result
						}
						if actionEv != nil {
							e.docs.Publish(runCtx, *actionEv)
							eventCount++
						}
					}
				}
			}
		}
	}

	e.docs.Publish(runCtx, document.NewStop(runID, document.StatusSuccess, ""))
	result.Status = document.StatusSuccess
	result.EventCount = eventCount
	e.setState(StateIdle)
	return result
}

func (e *Engine) abortRun(ctx context.Context, runID uuid.UUID, handles map[string]*capability.Handle, eventCount int, reason string) Result {
	e.setState(StateAborting)
	for _, h := range handles {
		h.HaltBestEffort(ctx)
	}
	e.docs.Publish(ctx, document.NewStop(runID, document.StatusAbort, reason))
	e.setState(StateIdle)
	return Result{RunID: runID, Status: document.StatusAbort, Reason: reason, EventCount: eventCount}
}

// dispatchWatchingControl runs a single step's dispatch in its own
// goroutine while continuing to read e.control, so an Abort/Halt
// arriving mid-step is observed immediately instead of waiting for
// the in-flight capability call to return on its own: cancel stops
// runCtx, which stepCtx is derived from, so the call unwinds as soon
// as the driver notices ctx.Done(). A Pause seen here is recorded via
// pauseRequested but does not interrupt the step; it takes effect once
// dispatch returns, same as a Pause seen between steps.
func (e *Engine) dispatchWatchingControl(runCtx context.Context, cancel context.CancelFunc, runID uuid.UUID, step plan.Step, handles map[string]*capability.Handle, onError OnError) (ev *document.Document, stepErr error, aborted bool, pauseRequested bool) {
	stepCtx, stepCancel := context.WithTimeout(runCtx, e.timeout)
	defer stepCancel()

	type dispatchResult struct {
		ev  *document.Document
		err error
	}
	done := make(chan dispatchResult, 1)
	start := time.Now()
	go func() {
		ev, err := e.dispatch(stepCtx, runID, step, handles, onError)
		done <- dispatchResult{ev, err}
	}()

	for {
		select {
		case res := <-done:
			if res.err == nil {
				e.observer.ObserveStep(uint64(time.Since(start)), false, false, false)
			}
			return res.ev, res.err, false, pauseRequested
		case sig := <-e.control:
			switch sig {
			case controlAbort, controlHalt:
				cancel()
				<-done // let the now-cancelled call unwind before reporting abort
				return nil, nil, true, pauseRequested
			case controlPause:
				e.setState(StatePaused)
				pauseRequested = true
			case controlResume:
				// resume before a pause has taken effect is a no-op
			}
		}
	}
}

func (e *Engine) publishStatus(runID uuid.UUID, totalExpected int) {
	select {
	case e.status <- StatusUpdate{State: e.State(), RunID: runID, TotalExpected: totalExpected}:
	default:
	}
}

// dispatch translates a single plan step into a capability call,
// returning the Event document it produced (nil for steps with no
// event, such as Sleep or Log) and any error from the call, after
// applying retry-with-backoff for transient failures.
func (e *Engine) dispatch(ctx context.Context, runID uuid.UUID, step plan.Step, handles map[string]*capability.Handle, onError OnError) (*document.Document, error) {
	switch step.Kind {
	case plan.KindBeginRun, plan.KindEndRun, plan.KindPause, plan.KindResume:
		return nil, nil

	case plan.KindCheckpoint:
		return nil, nil

	case plan.KindLog:
		e.logger.Info(step.Message, "level", string(step.LogLevel), "run", runID.String())
		return nil, nil

	case plan.KindSleep:
		select {
		case <-time.After(step.SleepDuration):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, nil

	case plan.KindWait:
		return nil, e.dispatchWait(ctx, step, handles)

	case plan.KindMove:
		h, err := e.handleFor(handles, step.DeviceID)
		if err != nil {
			return nil, err
		}
		err = e.withRetry(onError, func() error {
			return h.Move(ctx, step.Position, step.Mode, step.WaitSettled)
		})
		if err != nil {
			return nil, err
		}
		ev := document.NewEvent(runID, step.DeviceID, map[string]any{"position": step.Position})
		return &ev, nil

	case plan.KindSet:
		h, err := e.handleFor(handles, step.DeviceID)
		if err != nil {
			return nil, err
		}
		err = e.withRetry(onError, func() error { return h.Set(ctx, step.Param, step.Value) })
		if err != nil {
			return nil, err
		}
		ev := document.NewEvent(runID, step.DeviceID, map[string]any{step.Param: step.Value})
		return &ev, nil

	case plan.KindTrigger:
		h, err := e.handleFor(handles, step.DeviceID)
		if err != nil {
			return nil, err
		}
		err = e.withRetry(onError, func() error {
			if armErr := h.Arm(ctx); armErr != nil {
				return armErr
			}
			return h.Trigger(ctx)
		})
		if err != nil {
			return nil, err
		}
		ev := document.NewEvent(runID, step.DeviceID, map[string]any{"triggered": true})
		return &ev, nil

	case plan.KindRead:
		h, err := e.handleFor(handles, step.DeviceID)
		if err != nil {
			return nil, err
		}
		var value float64
		err = e.withRetry(onError, func() error {
			v, readErr := h.Read(ctx)
			value = v
			return readErr
		})
		if err != nil {
			return nil, err
		}
		ev := document.NewEvent(runID, step.DeviceID, map[string]any{"value": value})
		return &ev, nil

	default:
		return nil, daqerr.New("Dispatch", daqerr.CategoryConfiguration, fmt.Sprintf("unknown step kind %q", step.Kind))
	}
}

func (e *Engine) dispatchWait(ctx context.Context, step plan.Step, handles map[string]*capability.Handle) error {
	w := step.Wait
	if w == nil {
		return daqerr.New("Wait", daqerr.CategoryConfiguration, "wait step missing condition")
	}

	switch w.Kind {
	case plan.WaitDuration:
		select {
		case <-time.After(w.Duration):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case plan.WaitThreshold:
		h, err := e.handleFor(handles, w.DeviceID)
		if err != nil {
			return err
		}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				v, readErr := h.Read(ctx)
				if readErr != nil {
					return readErr
				}
				if (w.Above && v >= w.Threshold) || (!w.Above && v <= w.Threshold) {
					return nil
				}
			}
		}

	case plan.WaitStability:
		h, err := e.handleFor(handles, w.DeviceID)
		if err != nil {
			return err
		}
		deadline := time.Now().Add(w.StabilityWindow)
		var last float64
		first := true
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				v, readErr := h.Read(ctx)
				if readErr != nil {
					return readErr
				}
				if first {
					last, first = v, false
					continue
				}
				if diffAbs(v, last) > w.StabilityTolerance {
					deadline = time.Now().Add(w.StabilityWindow)
				}
				last = v
			}
		}
		return nil

	default:
		return daqerr.New("Wait", daqerr.CategoryConfiguration, "unknown wait kind")
	}
}

// descriptorFields names, in first-seen order, the value keys the
// Event documents a plan's steps will produce — the same keys
// dispatch attaches to each step kind's document.NewEvent call.
// Branch action steps are walked too, since they can emit events of
// their own inline with the Read step that triggers them.
func descriptorFields(steps []plan.Step) []string {
	var fields []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			fields = append(fields, name)
		}
	}

	var walk func([]plan.Step)
	walk = func(steps []plan.Step) {
		for _, step := range steps {
			switch step.Kind {
			case plan.KindMove:
				add("position")
			case plan.KindSet:
				add(step.Param)
			case plan.KindTrigger:
				add("triggered")
			case plan.KindRead:
				add("value")
				if step.Branch != nil {
					walk(step.Branch.ActionSteps)
				}
			}
		}
	}
	walk(steps)
	return fields
}

func diffAbs(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func (e *Engine) handleFor(handles map[string]*capability.Handle, deviceID string) (*capability.Handle, error) {
	if h, ok := handles[deviceID]; ok {
		return h, nil
	}
	h, err := e.registry.Handle(deviceID)
	if err != nil {
		return nil, err
	}
	handles[deviceID] = h
	return h, nil
}

func (e *Engine) withRetry(onError OnError, fn func() error) error {
	if onError != OnErrorRetry {
		return fn()
	}
	return resilience.Retry(context.Background(), e.retryCfg, func() error {
		err := fn()
		if err != nil && !daqerr.IsRetryable(err) {
			return resilience.Permanent(err)
		}
		return err
	})
}
