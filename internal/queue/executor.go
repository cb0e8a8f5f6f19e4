// Package queue is the Queue Executor (C6): a ticker-driven background loop
// that claims queued rows, invokes their bound function through C5, records
// an append-only trace, and retries on a fixed delay bounded by the task's
// retry policy, per spec §4.5.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	core "github.com/nanoedge/nanoedgert/internal/core"
	"github.com/nanoedge/nanoedgert/internal/dispatcher"
	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/metrics"
	"github.com/nanoedge/nanoedgert/internal/store"
	"github.com/nanoedge/nanoedgert/internal/system"
	"github.com/nanoedge/nanoedgert/pkg/logger"
)

var _ system.Service = (*Executor)(nil)

// tickInterval is the claim loop's period (5 Hz), per spec §4.5.
const tickInterval = 200 * time.Millisecond

// maxConcurrentClaims bounds how many claimed rows are processed at once
// per tick, so a large backlog cannot spawn an unbounded number of
// concurrent sandbox children (spec §5's "bounded ... semaphore" note). It
// is a fixed in-process limit rather than a Config row: no operation in
// SPEC_FULL.md's admin surface names a tunable for it.
const maxConcurrentClaims = 32

// Executor is the Queue Executor (C6).
type Executor struct {
	store      *store.Store
	dispatcher *dispatcher.Dispatcher
	log        *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(st *store.Store, d *dispatcher.Dispatcher, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewDefault("queue-executor")
	}
	return &Executor{store: st, dispatcher: d, log: log}
}

func (e *Executor) Name() string { return "queue-executor" }

func (e *Executor) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "queue-executor",
		Domain:       "queue",
		Layer:        core.LayerEngine,
		Capabilities: []string{"claim", "dispatch", "retry"},
	}
}

// Start begins the 200ms claim/process loop. It is idempotent.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.tick(runCtx)
			}
		}
	}()

	e.log.Info("queue executor started")
	return nil
}

// Stop cancels the claim loop and waits for in-flight claims to observe
// cancellation, bounded by ctx's own deadline (spec §4.7's graceful
// shutdown requirement).
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.log.Info("queue executor stopped")
	return nil
}

// tick claims every queued row and processes each concurrently and
// independently (spec §4.5 step 2), bounded by maxConcurrentClaims.
func (e *Executor) tick(ctx context.Context) {
	entries, err := e.store.ClaimQueued(ctx)
	if err != nil {
		e.log.WithError(err).Warn("queue executor claim failed")
		metrics.RecordQueueClaim("error")
		return
	}
	if len(entries) == 0 {
		return
	}
	metrics.RecordQueueClaim("ok")

	sem := make(chan struct{}, maxConcurrentClaims)
	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(entry domain.QueueEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			e.process(ctx, entry)
		}(entry)
	}
	wg.Wait()
}

// process runs one claimed row to completion: start trace, invoke, interpret
// the response, and retry-with-fixed-delay on failure until the task's
// retry budget is exhausted (spec §4.5 step 2).
func (e *Executor) process(ctx context.Context, entry domain.QueueEntry) {
	start := time.Now()
	done := core.StartObservation(ctx, metrics.QueueExecutorHooks(), map[string]string{"queue_id": entry.ID})
	var processErr error
	defer func() { done(processErr) }()

	task, err := e.store.GetTask(ctx, entry.TaskID)
	if err != nil {
		e.log.WithError(err).WithField("queue_id", entry.ID).Warn("queue executor: bound task missing")
		processErr = err
		return
	}

	startParams := entry.Params
	if _, err := e.store.AppendTraceEvent(ctx, entry.ID, domain.TraceEventStart, &startParams); err != nil {
		e.log.WithError(err).WithField("queue_id", entry.ID).Warn("queue executor: append start trace failed")
		return
	}

	// Fixed delay, not exponential: Multiplier 1 keeps every backoff step
	// at RetryDelayMS, per spec §4.5's "retries on a fixed delay".
	policy := core.RetryPolicy{
		Attempts:       entry.RemainingRetries + 1,
		InitialBackoff: time.Duration(entry.RetryDelayMS) * time.Millisecond,
		Multiplier:     1,
	}

	attemptIndex := 0
	attemptErr := core.Retry(ctx, policy, func() error {
		attemptIndex++
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := e.attempt(ctx, entry, task.BoundFunctionName)
		if err == nil || attemptIndex >= policy.Attempts {
			return err
		}
		// Persist the decremented count so a crash mid-wait resumes from
		// where it left off rather than re-granting spent retries.
		remaining, decErr := e.store.DecrementRetry(ctx, entry.ID)
		if decErr != nil {
			e.log.WithError(decErr).WithField("queue_id", entry.ID).Warn("queue executor: decrement retry failed")
		} else {
			entry.RemainingRetries = remaining
		}
		return err
	})

	if attemptErr == nil {
		metrics.RecordQueueTask("completed", time.Since(start))
		return
	}
	if errors.Is(attemptErr, context.Canceled) || errors.Is(attemptErr, context.DeadlineExceeded) {
		return
	}

	message := attemptErr.Error()
	if _, err := e.store.AppendTraceEvent(ctx, entry.ID, domain.TraceEventFailed, &message); err != nil {
		e.log.WithError(err).WithField("queue_id", entry.ID).Warn("queue executor: append failed trace failed")
	}
	if err := e.store.MarkQueueFailed(ctx, entry.ID); err != nil {
		e.log.WithError(err).WithField("queue_id", entry.ID).Warn("queue executor: mark failed failed")
	}
	metrics.RecordQueueTask("failed", time.Since(start))
	processErr = attemptErr
}

// attempt runs a single invocation and, on success, records its terminal
// trace event and marks the row completed. It returns a non-nil error for
// any failure mode spec §4.5 names: an unparsable params payload, a
// dispatcher-level error (NotFound/Disabled/HandlerThrew/Timeout), or an
// unsupported response content type.
func (e *Executor) attempt(ctx context.Context, entry domain.QueueEntry, functionName string) error {
	var params any
	if err := json.Unmarshal([]byte(entry.Params), &params); err != nil {
		return err
	}

	resp, err := e.dispatcher.Invoke(ctx, functionName, params)
	if err != nil {
		return err
	}
	defer resp.Cancel()

	switch resp.ContentType {
	case "application/json":
		body := string(resp.Body)
		if _, err := e.store.AppendTraceEvent(ctx, entry.ID, domain.TraceEventEnd, &body); err != nil {
			return err
		}
		return e.store.MarkQueueCompleted(ctx, entry.ID)

	case "text/event-stream":
		return e.drainStream(ctx, entry, resp)

	default:
		return apperr.Wrapf(apperr.UnsupportedContentType, "function %q returned %s", functionName, resp.ContentType)
	}
}

// drainStream relays each progress event as a "stream" trace and, on the
// terminal event, a final "end" trace before marking the row completed, in
// delivery order (spec §4.5/§5 — trace events must be appended in observed
// order, never reordered or coalesced).
func (e *Executor) drainStream(ctx context.Context, entry domain.QueueEntry, resp *dispatcher.Response) error {
	for ev := range resp.Events {
		if ev.Err != nil {
			return ev.Err
		}
		encoded, err := json.Marshal(ev.Value)
		if err != nil {
			return err
		}
		data := string(encoded)
		if ev.Done {
			if _, err := e.store.AppendTraceEvent(ctx, entry.ID, domain.TraceEventEnd, &data); err != nil {
				return err
			}
			return e.store.MarkQueueCompleted(ctx, entry.ID)
		}
		if _, err := e.store.AppendTraceEvent(ctx, entry.ID, domain.TraceEventStream, &data); err != nil {
			return err
		}
	}
	return apperr.Wrap(apperr.Terminated, "stream closed before its terminal event")
}
