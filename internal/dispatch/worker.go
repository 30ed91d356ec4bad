package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/croftlabs/drover/internal/event"
	"github.com/croftlabs/drover/internal/journal"
	"github.com/croftlabs/drover/internal/liveness"
	"github.com/croftlabs/drover/internal/log"
	"github.com/croftlabs/drover/internal/metrics"
	"github.com/croftlabs/drover/internal/queue"
)

// worker pulls items from one queue, decodes and executes them, and
// publishes replies. It exits only on a stop signal or a failed liveness
// check; individual item failures are contained.
type worker struct {
	name      string
	queue     *queue.Queue
	executor  Executor
	decoder   event.Decoder
	publisher Publisher
	monitor   *liveness.Monitor
	jrnl      *journal.Journal
	logger    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newWorker(name string, q *queue.Queue, executor Executor, decoder event.Decoder, publisher Publisher, monitor *liveness.Monitor, jrnl *journal.Journal) *worker {
	return &worker{
		name:      name,
		queue:     q,
		executor:  executor,
		decoder:   decoder,
		publisher: publisher,
		monitor:   monitor,
		jrnl:      jrnl,
		logger:    log.WithWorker(name),
		stopCh:    make(chan struct{}),
	}
}

// stop signals the worker to exit. Safe to call more than once.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *worker) run(parentPID int) {
	defer w.logger.Info("exiting")

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		item, err := w.queue.Dequeue(dequeueTimeout)
		if err != nil {
			// Empty timeout: the regular liveness re-check opportunity.
			if !w.monitor.ShouldContinue(parentPID) {
				w.logger.Info("liveness check failed, stopping")
				return
			}
			continue
		}

		if stop := w.handle(item, parentPID); stop {
			return
		}
	}
}

// handle processes one dequeued item. Returns true when the worker should
// stop because liveness failed during error handling.
func (w *worker) handle(item []byte, parentPID int) bool {
	var (
		start    time.Time
		duration time.Duration
	)

	req, err := w.decoder.Decode(item)
	if err == nil {
		w.logger.Info("starting request", "request_id", req.ID, "name", req.Name)
		start = time.Now()

		var resp *event.Response
		resp, err = w.executor.Execute(context.Background(), req)

		duration = time.Since(start)
		metrics.RequestDuration.Observe(duration.Seconds())
		w.logger.Info("done request", "request_id", req.ID, "name", req.Name,
			"duration_ms", duration.Milliseconds())

		if err == nil {
			if resp != nil {
				if perr := w.publisher.Publish(resp); perr != nil {
					w.logger.Error("failed to publish reply", "request_id", req.ID, "error", perr)
				}
			}
			metrics.RequestsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
			w.record(req, metrics.OutcomeOK, "", "", start, duration)
			return false
		}
	}

	if errors.Is(err, ErrResourceLocked) {
		name := ""
		if req != nil {
			name = req.Name
		}
		w.logger.Info("resource locked, skipping request", "name", name, "error", err)
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeLocked).Inc()
		if req != nil {
			w.record(req, metrics.OutcomeLocked, err.Error(), "", start, duration)
		}
		return !w.monitor.ShouldContinue(parentPID)
	}

	errorID := uuid.NewString()
	w.logger.Error("unknown error handling event", "error_id", errorID, "error", err)
	metrics.RequestsTotal.WithLabelValues(metrics.OutcomeError).Inc()

	if !w.monitor.ShouldContinue(parentPID) {
		return true
	}

	if req != nil {
		msg := fmt.Sprintf("%s : %s", errorID, err)
		if resp := event.Reply(req, nil); resp != nil {
			resp.Transitioning = event.TransitioningError
			resp.TransitioningInternalMessage = msg
			if perr := w.publisher.Publish(resp); perr != nil {
				w.logger.Error("failed to publish error reply", "request_id", req.ID, "error", perr)
			}
		}
		w.record(req, metrics.OutcomeError, err.Error(), errorID, start, duration)
	}
	return false
}

// record appends to the request journal, best-effort.
func (w *worker) record(req *event.Request, outcome, errText, errorID string, start time.Time, duration time.Duration) {
	if w.jrnl == nil {
		return
	}
	entry := journal.Entry{
		RequestID: req.ID,
		Name:      req.Name,
		Worker:    w.name,
		Outcome:   outcome,
		Error:     errText,
		ErrorID:   errorID,
		StartedAt: start,
		Duration:  duration,
	}
	if err := w.jrnl.Record(context.Background(), entry); err != nil {
		w.logger.Debug("failed to journal request", "request_id", req.ID, "error", err)
	}
}
