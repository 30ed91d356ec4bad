package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/croftlabs/drover/internal/event"
	"github.com/croftlabs/drover/internal/journal"
	"github.com/croftlabs/drover/internal/liveness"
	"github.com/croftlabs/drover/internal/log"
	"github.com/croftlabs/drover/internal/metrics"
	"github.com/croftlabs/drover/internal/queue"
)

const (
	// heartbeatMarker classifies a raw line as a heartbeat before paying
	// decode cost.
	heartbeatMarker = `"ping`

	// dequeueTimeout bounds how long a worker waits for an item before
	// re-checking liveness.
	dequeueTimeout = 5 * time.Second

	// shutdownGrace bounds how long shutdown waits for busy workers. A
	// worker stuck inside the executor is not preemptible.
	shutdownGrace = 10 * time.Second

	// maxLineBytes caps one stream line.
	maxLineBytes = 1024 * 1024
)

// Executor performs one decoded request. It may fail with ErrResourceLocked
// to signal the expected lock-contention case, or with any other error. A nil
// Response with nil error means the request produced no reply.
type Executor interface {
	Execute(ctx context.Context, req *event.Request) (*event.Response, error)
}

// Publisher delivers a reply to the origin.
type Publisher interface {
	Publish(resp *event.Response) error
}

// ErrResourceLocked marks the recoverable failure where another actor holds a
// resource the request needs. Executors wrap or return it directly.
var ErrResourceLocked = errors.New("resource locked by another holder")

// Config tunes a Dispatcher.
type Config struct {
	// URL is the API base (no trailing /subscribe). See BaseURL.
	URL       string
	AccessKey string
	SecretKey string
	AgentID   string

	Workers         int
	QueueDepth      int
	ReadTimeout     time.Duration
	MaxDropped      int
	MaxDroppedPings int
}

// Dispatcher owns the queues, the worker pool, and the subscription loop.
type Dispatcher struct {
	cfg       Config
	executor  Executor
	decoder   event.Decoder
	publisher Publisher
	monitor   *liveness.Monitor
	jrnl      *journal.Journal
	client    *http.Client
	logger    *slog.Logger

	dataQueue *queue.Queue
	pingQueue *queue.Queue

	dropped     atomic.Int64
	pingDropped atomic.Int64

	workersStarted atomic.Int32
	workers        []*worker
	wg             sync.WaitGroup
}

// New creates a Dispatcher. jrnl may be nil to disable the request journal.
func New(cfg Config, executor Executor, publisher Publisher, monitor *liveness.Monitor, jrnl *journal.Journal) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		executor:  executor,
		decoder:   event.JSONDecoder{},
		publisher: publisher,
		monitor:   monitor,
		jrnl:      jrnl,
		client:    &http.Client{},
		logger:    log.WithComponent("dispatch"),
		dataQueue: queue.New(cfg.QueueDepth),
		pingQueue: queue.New(cfg.QueueDepth),
	}
}

// BaseURL normalizes a configured API URL; a trailing /schemas segment is
// tolerated and stripped.
func BaseURL(raw string) string {
	return strings.TrimSuffix(raw, "/schemas")
}

// Run subscribes for eventNames and processes the stream until a termination
// condition. A failed handshake is returned as an error before any worker
// starts; every other ending (stream closure, overload, liveness failure) is
// a clean nil return. Whatever ends the loop, every started worker is told to
// stop before Run returns.
func (d *Dispatcher) Run(ctx context.Context, eventNames []string) error {
	parentPID := liveness.ParentPIDFromEnv()

	// Capture the liveness generation before the stream opens so later
	// checks compare against the state we started from.
	d.monitor.StampCurrent()

	body, err := subscribeBody(eventNames, d.cfg.AgentID)
	if err != nil {
		return fmt.Errorf("build subscribe body: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL+"/subscribe", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build subscribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.AccessKey != "" {
		req.SetBasicAuth(d.cfg.AccessKey, d.cfg.SecretKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("subscribe: unexpected status %d: %s", resp.StatusCode, detail)
	}

	d.logger.Info("subscribed", "url", d.cfg.URL+"/subscribe", "events", len(eventNames))

	d.startWorkers(parentPID)
	defer d.stopWorkers()

	// Per-line read timeout: if the stream stays silent past the deadline
	// the request context is cancelled and the loop ends.
	watchdog := time.AfterFunc(d.cfg.ReadTimeout, cancel)
	defer watchdog.Stop()

	d.readLoop(resp.Body, watchdog, parentPID)
	return nil
}

// readLoop consumes the stream line by line until overload, liveness failure,
// or stream closure.
func (d *Dispatcher) readLoop(stream io.Reader, watchdog *time.Timer, parentPID int) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var dropped, pingDropped int
	for scanner.Scan() {
		watchdog.Reset(d.cfg.ReadTimeout)

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) > 0 {
			ping := bytes.Contains(line, []byte(heartbeatMarker))
			// The scanner reuses its buffer; the queue takes ownership.
			item := bytes.Clone(line)

			if ping {
				if err := d.pingQueue.TryEnqueue(item); err != nil {
					pingDropped++
					d.pingDropped.Add(1)
					metrics.LinesDropped.WithLabelValues(metrics.KindPing).Inc()
					d.logger.Info("dropping event", "kind", "ping")
					if pingDropped > d.cfg.MaxDroppedPings {
						d.logger.Error("max dropped heartbeats exceeded", "max", d.cfg.MaxDroppedPings)
						break
					}
				} else {
					// Heartbeats flowing again means the congestion cleared.
					pingDropped = 0
					metrics.LinesReceived.WithLabelValues(metrics.KindPing).Inc()
				}
			} else {
				if err := d.dataQueue.TryEnqueue(item); err != nil {
					dropped++
					d.dropped.Add(1)
					metrics.LinesDropped.WithLabelValues(metrics.KindData).Inc()
					d.logger.Info("dropping event", "kind", "data")
					if dropped > d.cfg.MaxDropped {
						d.logger.Error("max dropped events exceeded", "max", d.cfg.MaxDropped)
						break
					}
				} else {
					metrics.LinesReceived.WithLabelValues(metrics.KindData).Inc()
				}
			}

			metrics.QueueDepth.WithLabelValues(metrics.KindData).Set(float64(d.dataQueue.Depth()))
			metrics.QueueDepth.WithLabelValues(metrics.KindPing).Set(float64(d.pingQueue.Depth()))
		}

		if !d.monitor.ShouldContinue(parentPID) {
			d.logger.Info("parent process has died or stamp changed, exiting")
			break
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("event stream closed", "error", err)
	}
}

func (d *Dispatcher) startWorkers(parentPID int) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.spawnWorker(fmt.Sprintf("worker%d", i), d.dataQueue, parentPID)
	}
	d.spawnWorker("ping", d.pingQueue, parentPID)
	d.logger.Info("workers started", "data_workers", d.cfg.Workers)
}

func (d *Dispatcher) spawnWorker(name string, q *queue.Queue, parentPID int) {
	w := newWorker(name, q, d.executor, d.decoder, d.publisher, d.monitor, d.jrnl)
	d.workers = append(d.workers, w)
	d.workersStarted.Add(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		w.run(parentPID)
	}()
}

// stopWorkers signals every started worker and waits up to shutdownGrace for
// them to drain. Workers still inside the executor after the grace period are
// abandoned; the process is about to exit anyway.
func (d *Dispatcher) stopWorkers() {
	for _, w := range d.workers {
		w.stop()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("workers stopped")
	case <-time.After(shutdownGrace):
		d.logger.Warn("workers still busy at shutdown, abandoning")
	}
}

// WorkerCount returns how many workers were started this run.
func (d *Dispatcher) WorkerCount() int {
	return int(d.workersStarted.Load())
}

// QueueDepths returns the current data and ping queue depths.
func (d *Dispatcher) QueueDepths() (data, ping int) {
	return d.dataQueue.Depth(), d.pingQueue.Depth()
}

// DropCounts returns how many data and ping lines were dropped this run.
func (d *Dispatcher) DropCounts() (data, ping int64) {
	return d.dropped.Load(), d.pingDropped.Load()
}

var nonAlphaSegments = regexp.MustCompile(`[a-z]+`)

// agentSuffix derives the per-agent event name suffix from the agent id's
// first non-alphabetic segment.
func agentSuffix(agentID string) string {
	parts := nonAlphaSegments.Split(agentID, -1)
	if len(parts) > 1 {
		return ";agent=" + parts[1]
	}
	return ";agent=" + agentID
}

func subscribeBody(eventNames []string, agentID string) ([]byte, error) {
	payload := struct {
		AgentID    string   `json:"agentId,omitempty"`
		EventNames []string `json:"eventNames"`
	}{
		EventNames: eventNames,
	}

	if agentID != "" {
		payload.AgentID = agentID
		suffix := agentSuffix(agentID)
		names := make([]string, len(eventNames))
		for i, name := range eventNames {
			names[i] = name + suffix
		}
		payload.EventNames = names
	}

	return json.Marshal(payload)
}
