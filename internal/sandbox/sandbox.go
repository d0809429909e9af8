// Package sandbox runs untrusted guest code inside per-execution interpreter
// instances with tier-derived resource ceilings: a wall-clock deadline
// enforced by interpreter interrupt and a heap ceiling enforced by a
// sampling watchdog.
package sandbox

import (
	"context"
	"crypto/sha256"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"x402-sandbox/internal/runtime"
	"x402-sandbox/internal/tier"
)

// State tracks an execution through its lifecycle. Terminal states are
// Completed, TimedOut, MemoryExceeded, and Errored; Disposed is reached
// after the execution context is released.
type State string

const (
	StateCreated        State = "created"
	StateCompiling      State = "compiling"
	StateRunning        State = "running"
	StateCompleted      State = "completed"
	StateTimedOut       State = "timed_out"
	StateMemoryExceeded State = "memory_exceeded"
	StateErrored        State = "errored"
	StateDisposed       State = "disposed"
)

type Request struct {
	Code     string        `json:"code"`
	Language string        `json:"language"`
	Tier     tier.Tier     `json:"tier"`
	Timeout  time.Duration `json:"timeout"` // optional; may only tighten the tier ceiling
}

type Result struct {
	ID              string        `json:"id"`
	Output          string        `json:"output"`
	Error           string        `json:"error,omitempty"`
	State           State         `json:"state"`
	Duration        time.Duration `json:"duration"`
	MemoryPeakBytes uint64        `json:"memory_peak_bytes"`
	CodeHash        string        `json:"code_hash"`
}

// Succeeded reports whether the execution ran to completion.
func (r *Result) Succeeded() bool {
	return r.State == StateCompleted
}

// Engine admits executions against a concurrency cap and drives each one
// through its state machine.
type Engine struct {
	runtimes *runtime.Registry
	sem      chan struct{} // Concurrency limiter
	active   atomic.Int64  // Active execution count
	mu       sync.Mutex    // Protects shutdown state
	closed   bool
}

// NewEngine creates an engine with the given concurrency cap.
func NewEngine(runtimes *runtime.Registry, maxConcurrent int) *Engine {
	if maxConcurrent < 1 {
		maxConcurrent = 100
	}
	return &Engine{
		runtimes: runtimes,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Execute runs guest code under the request's tier limits. A non-nil error
// means the execution never started (bad request, unknown tier, shutdown);
// runtime outcomes including timeout and memory kill are reported through
// Result.State with a nil error, so the caller always gets billable output.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	execID := uuid.New().String()
	codeHash := fmt.Sprintf("%x", sha256.Sum256([]byte(req.Code)))

	logger := log.With().
		Str("exec_id", execID).
		Str("language", req.Language).
		Str("tier", string(req.Tier)).
		Str("code_hash", codeHash[:16]).
		Logger()

	logger.Info().Msg("execution requested")

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, &ExecutionError{ExecID: execID, Op: "admit", Err: ErrEngineClosed}
	}
	e.mu.Unlock()

	profile, err := tier.Get(req.Tier)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "resolve_tier", Err: err}
	}

	rt, err := e.runtimes.Get(req.Language)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "get_runtime", Err: err}
	}
	if err := e.validateRequest(req, rt); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: err}
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, &ExecutionError{ExecID: execID, Op: "acquire_slot", Err: fmt.Errorf("%w: %v", ErrCapacity, ctx.Err())}
	}

	e.active.Add(1)
	defer e.active.Add(-1)

	limits := LimitsForProfile(profile, req.Timeout)
	if err := limits.Validate(); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate_limits", Err: err}
	}

	features := make([]runtime.Feature, 0, len(profile.Features))
	for _, f := range profile.Features {
		features = append(features, runtime.Feature(f))
	}

	rtCtx, err := rt.NewContext(runtime.Options{
		Features:    features,
		MaxLogBytes: limits.MaxLogBytes,
	})
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "create_context", Err: err}
	}
	// The context is released on every path, including panic.
	defer func() {
		if closeErr := rtCtx.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("context close failed")
		}
	}()

	result := &Result{ID: execID, CodeHash: codeHash}
	start := time.Now()

	if err := rtCtx.Compile(req.Code); err != nil {
		result.State = StateErrored
		result.Error = fmt.Errorf("%w: %v", ErrExecutionFailed, err).Error()
		result.Duration = time.Since(start)
		logger.Info().Err(err).Msg("compile failed")
		return result, nil
	}

	timer := time.AfterFunc(limits.Timeout, func() {
		rtCtx.Interrupt(fmt.Errorf("%w after %s", ErrTimeout, limits.Timeout))
	})
	defer timer.Stop()

	watchdog := newMemoryWatchdog(rtCtx, limits.MemoryMB)
	watchdog.start()

	value, runErr := rtCtx.Run()

	watchdog.stop()
	result.Duration = time.Since(start)
	result.MemoryPeakBytes = watchdog.peak()
	result.Output = truncateOutput(joinOutput(rtCtx.Logs(), value), limits.MaxLogBytes)

	switch {
	case runErr == nil:
		result.State = StateCompleted
	case IsTimeout(runErr):
		result.State = StateTimedOut
		result.Error = runErr.Error()
	case IsMemoryExceeded(runErr):
		result.State = StateMemoryExceeded
		result.Error = runErr.Error()
	default:
		result.State = StateErrored
		result.Error = fmt.Errorf("%w: %v", ErrExecutionFailed, runErr).Error()
	}

	logger.Info().
		Str("state", string(result.State)).
		Dur("duration", result.Duration).
		Uint64("memory_peak", result.MemoryPeakBytes).
		Msg("execution finished")

	return result, nil
}

// ActiveCount returns the number of currently running executions.
func (e *Engine) ActiveCount() int64 {
	return e.active.Load()
}

// Close stops admitting new executions. In-flight executions finish.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) validateRequest(req Request, rt runtime.Runtime) error {
	if req.Code == "" {
		return fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(req.Code) > MaxCodeLength {
		return fmt.Errorf("%w: code exceeds %d characters", ErrInvalidRequest, MaxCodeLength)
	}
	if err := rt.Validate(req.Code); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// memoryWatchdog samples heap growth over the execution's lifetime and
// interrupts the guest when the growth exceeds the tier ceiling. Sampling
// the process heap is an approximation shared across concurrent executions;
// it bounds damage from allocation bombs rather than metering precisely.
type memoryWatchdog struct {
	ctx      runtime.Context
	limit    uint64
	baseline uint64
	peakSeen atomic.Uint64
	done     chan struct{}
	wg       sync.WaitGroup
}

func newMemoryWatchdog(ctx runtime.Context, memoryMB int64) *memoryWatchdog {
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	return &memoryWatchdog{
		ctx:      ctx,
		limit:    uint64(memoryMB) * 1024 * 1024,
		baseline: ms.HeapAlloc,
		done:     make(chan struct{}),
	}
}

func (w *memoryWatchdog) start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				var ms goruntime.MemStats
				goruntime.ReadMemStats(&ms)
				var growth uint64
				if ms.HeapAlloc > w.baseline {
					growth = ms.HeapAlloc - w.baseline
				}
				if growth > w.peakSeen.Load() {
					w.peakSeen.Store(growth)
				}
				if growth > w.limit {
					w.ctx.Interrupt(fmt.Errorf("%w: heap grew %dMB over a %dMB ceiling",
						ErrMemoryExceeded, growth/(1024*1024), w.limit/(1024*1024)))
					return
				}
			case <-w.done:
				return
			}
		}
	}()
}

func (w *memoryWatchdog) stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *memoryWatchdog) peak() uint64 {
	return w.peakSeen.Load()
}

func joinOutput(logs, value string) string {
	if logs == "" {
		return value
	}
	if value == "" {
		return logs
	}
	return logs + value
}

func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [output truncated]"
}
