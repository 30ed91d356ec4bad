package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/croftlabs/drover/internal/event"
	"github.com/croftlabs/drover/internal/liveness"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type executorFunc func(ctx context.Context, req *event.Request) (*event.Response, error)

func (f executorFunc) Execute(ctx context.Context, req *event.Request) (*event.Response, error) {
	return f(ctx, req)
}

type capturePublisher struct {
	mu        sync.Mutex
	published []*event.Response
}

func (p *capturePublisher) Publish(resp *event.Response) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, resp)
	return nil
}

func (p *capturePublisher) replies() []*event.Response {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.Response(nil), p.published...)
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	if got := BaseURL("http://host:8080/v1/schemas"); got != "http://host:8080/v1" {
		t.Errorf("BaseURL = %q, want schemas suffix stripped", got)
	}
	if got := BaseURL("http://host:8080/v1"); got != "http://host:8080/v1" {
		t.Errorf("BaseURL = %q, want unchanged", got)
	}
}

func TestSubscribeBody(t *testing.T) {
	t.Parallel()

	body, err := subscribeBody([]string{"volume.create", "ping"}, "agent7")
	if err != nil {
		t.Fatalf("subscribeBody: %v", err)
	}

	var payload struct {
		AgentID    string   `json:"agentId"`
		EventNames []string `json:"eventNames"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}

	if payload.AgentID != "agent7" {
		t.Errorf("agentId = %q, want agent7", payload.AgentID)
	}
	want := []string{"volume.create;agent=7", "ping;agent=7"}
	for i, name := range payload.EventNames {
		if name != want[i] {
			t.Errorf("eventNames[%d] = %q, want %q", i, name, want[i])
		}
	}
}

func TestSubscribeBodyWithoutAgentID(t *testing.T) {
	t.Parallel()

	body, err := subscribeBody([]string{"ping"}, "")
	if err != nil {
		t.Fatalf("subscribeBody: %v", err)
	}
	if strings.Contains(string(body), "agentId") {
		t.Errorf("body carries agentId without one configured: %s", body)
	}
	if !strings.Contains(string(body), `"ping"`) {
		t.Errorf("body missing unsuffixed event name: %s", body)
	}
}

func TestAgentSuffix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id   string
		want string
	}{
		{"agent7", ";agent=7"},
		{"1234", ";agent=1234"},
		{"host12agent3", ";agent=12"},
	}
	for _, tc := range cases {
		if got := agentSuffix(tc.id); got != tc.want {
			t.Errorf("agentSuffix(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestRunRejectsBadHandshake(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no subscription for you", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Config{
		URL:         srv.URL,
		Workers:     2,
		QueueDepth:  10,
		ReadTimeout: 5 * time.Second,
	}, executorFunc(func(ctx context.Context, req *event.Request) (*event.Response, error) {
		t.Error("executor invoked despite failed handshake")
		return nil, nil
	}), &capturePublisher{}, liveness.NewMonitor(""), nil)

	err := d.Run(context.Background(), []string{"ping"})
	if err == nil {
		t.Fatal("Run returned nil for a failed handshake")
	}
	if d.WorkerCount() != 0 {
		t.Errorf("started %d workers before a successful handshake", d.WorkerCount())
	}
}

func TestRunProcessesStream(t *testing.T) {
	t.Parallel()

	executed := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/subscribe" {
			t.Errorf("unexpected subscribe request: %s %s", r.Method, r.URL.Path)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "access" {
			t.Errorf("missing basic auth on subscribe, user = %q", user)
		}

		w.WriteHeader(http.StatusCreated)
		flusher := w.(http.Flusher)

		lines := []string{
			`{"id":"e1","name":"volume.create","replyTo":"reply.1"}`,
			`{"id":"p1","name":"ping"}`,
		}
		for _, line := range lines {
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				return
			}
			flusher.Flush()
		}

		// Hold the stream open until both items were executed, then close
		// it to end the run.
		for range lines {
			select {
			case <-executed:
			case <-r.Context().Done():
				return
			}
		}
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	d := New(Config{
		URL:             srv.URL,
		AccessKey:       "access",
		SecretKey:       "secret",
		Workers:         1,
		QueueDepth:      10,
		ReadTimeout:     5 * time.Second,
		MaxDropped:      1000,
		MaxDroppedPings: 10,
	}, executorFunc(func(ctx context.Context, req *event.Request) (*event.Response, error) {
		executed <- req.Name
		return event.Reply(req, map[string]any{"done": true}), nil
	}), pub, liveness.NewMonitor(""), nil)

	if err := d.Run(context.Background(), []string{"volume.create", "ping"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One data worker plus the dedicated ping worker.
	if d.WorkerCount() != 2 {
		t.Errorf("WorkerCount = %d, want 2", d.WorkerCount())
	}

	replies := pub.replies()
	if len(replies) != 1 {
		t.Fatalf("published %d replies, want 1 (ping has no replyTo)", len(replies))
	}
	if replies[0].Name != "reply.1" || replies[0].PreviousIDs[0] != "e1" {
		t.Errorf("reply not keyed to originating request: %#v", replies[0])
	}
}

func TestRunTerminatesOnDataOverflow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		flusher := w.(http.Flusher)

		// No data workers drain the queue, so with depth 1 the second
		// line must be dropped and the zero tolerance breached.
		for i := 0; i < 3; i++ {
			if _, err := w.Write([]byte(`{"id":"e1","name":"volume.create"}` + "\n")); err != nil {
				return
			}
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	d := New(Config{
		URL:             srv.URL,
		Workers:         0,
		QueueDepth:      1,
		ReadTimeout:     5 * time.Second,
		MaxDropped:      0,
		MaxDroppedPings: 0,
	}, executorFunc(func(ctx context.Context, req *event.Request) (*event.Response, error) {
		return nil, nil
	}), &capturePublisher{}, liveness.NewMonitor(""), nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), []string{"volume.create"}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not terminate after exceeding the drop tolerance")
	}

	dropped, _ := d.DropCounts()
	if dropped < 1 {
		t.Errorf("dropped = %d, want at least 1", dropped)
	}
}

func TestReadLoopTerminatesOnPingOverflow(t *testing.T) {
	t.Parallel()

	d := New(Config{
		QueueDepth:      1,
		ReadTimeout:     time.Hour,
		MaxDropped:      1000,
		MaxDroppedPings: 1,
	}, executorFunc(func(ctx context.Context, req *event.Request) (*event.Response, error) {
		return nil, nil
	}), &capturePublisher{}, liveness.NewMonitor(""), nil)

	pr, pw := io.Pipe()
	defer pw.Close()
	watchdog := time.AfterFunc(time.Hour, func() {})
	defer watchdog.Stop()

	done := make(chan struct{})
	go func() {
		d.readLoop(pr, watchdog, 0)
		close(done)
	}()

	// No worker drains the ping queue, so with depth 1 the first heartbeat
	// parks there and the next two are dropped, breaching the tolerance of 1.
	for i := 0; i < 3; i++ {
		if _, err := pw.Write([]byte(`{"id":"p1","name":"ping"}` + "\n")); err != nil {
			t.Fatalf("write heartbeat: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("read loop did not terminate after exceeding the heartbeat drop tolerance")
	}

	if _, pingDropped := d.DropCounts(); pingDropped != 2 {
		t.Errorf("ping dropped = %d, want 2", pingDropped)
	}
	// The first heartbeat reached the ping queue; nothing leaked into data.
	data, ping := d.QueueDepths()
	if data != 0 || ping != 1 {
		t.Errorf("QueueDepths = %d/%d, want 0/1", data, ping)
	}
}

func TestReadLoopResetsPingDropCounter(t *testing.T) {
	t.Parallel()

	d := New(Config{
		QueueDepth:      1,
		ReadTimeout:     time.Hour,
		MaxDropped:      1000,
		MaxDroppedPings: 1,
	}, executorFunc(func(ctx context.Context, req *event.Request) (*event.Response, error) {
		return nil, nil
	}), &capturePublisher{}, liveness.NewMonitor(""), nil)

	pr, pw := io.Pipe()
	defer pw.Close()
	watchdog := time.AfterFunc(time.Hour, func() {})
	defer watchdog.Stop()

	done := make(chan struct{})
	go func() {
		d.readLoop(pr, watchdog, 0)
		close(done)
	}()

	writeHeartbeat := func() {
		t.Helper()
		if _, err := pw.Write([]byte(`{"id":"p1","name":"ping"}` + "\n")); err != nil {
			t.Fatalf("write heartbeat: %v", err)
		}
	}

	// Fill the depth-1 ping queue, then drop one heartbeat.
	writeHeartbeat()
	writeHeartbeat()
	waitFor(t, func() bool { _, pd := d.DropCounts(); return pd == 1 })

	// Drain the queue so the next heartbeat enqueues cleanly; that restarts
	// the consecutive-drop count from zero.
	if _, err := d.pingQueue.Dequeue(time.Second); err != nil {
		t.Fatalf("drain ping queue: %v", err)
	}
	writeHeartbeat()
	waitFor(t, func() bool { _, ping := d.QueueDepths(); return ping == 1 })

	// A later single drop must not terminate the loop.
	writeHeartbeat()
	waitFor(t, func() bool { _, pd := d.DropCounts(); return pd == 2 })
	select {
	case <-done:
		t.Fatal("read loop terminated on a single drop after a successful enqueue")
	case <-time.After(100 * time.Millisecond):
	}

	// The second consecutive drop breaches the tolerance of 1.
	writeHeartbeat()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("read loop did not terminate after consecutive heartbeat drops")
	}

	if _, pingDropped := d.DropCounts(); pingDropped != 3 {
		t.Errorf("ping dropped = %d, want 3", pingDropped)
	}
}

func TestRunTerminatesWhenReadTimesOut(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.(http.Flusher).Flush()
		// Go silent; the read watchdog must end the run.
		<-r.Context().Done()
	}))
	defer srv.Close()

	d := New(Config{
		URL:         srv.URL,
		Workers:     0,
		QueueDepth:  1,
		ReadTimeout: 200 * time.Millisecond,
	}, executorFunc(func(ctx context.Context, req *event.Request) (*event.Response, error) {
		return nil, nil
	}), &capturePublisher{}, liveness.NewMonitor(""), nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), []string{"ping"}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not terminate on a silent stream")
	}
}

func TestQueueDepthsStartEmpty(t *testing.T) {
	t.Parallel()

	d := New(Config{QueueDepth: 5}, executorFunc(func(ctx context.Context, req *event.Request) (*event.Response, error) {
		return nil, nil
	}), &capturePublisher{}, liveness.NewMonitor(""), nil)

	data, ping := d.QueueDepths()
	if data != 0 || ping != 0 {
		t.Errorf("QueueDepths = %d/%d, want 0/0", data, ping)
	}
}
