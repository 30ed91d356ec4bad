// Package dispatch owns the agent's event loop: the streaming subscription,
// the two bounded queues, and the worker pool that executes decoded requests.
//
// The dispatcher opens one long-lived POST to <base>/subscribe and reads the
// chunked response line by line. Each non-empty line is classified as a
// heartbeat (it contains the `"ping` marker) or a data event and routed into
// the matching queue with a non-blocking enqueue, so a backlogged consumer
// can never stall the stream reader. Heartbeats get their own queue and a
// dedicated worker to keep keep-alive delivery isolated from data-event
// congestion.
//
// Overflow policy:
//   - A full queue drops the line and counts it per queue kind.
//   - The data drop counter only grows within a run; past max_dropped the
//     subscription loop terminates.
//   - The ping drop counter resets on every successful ping enqueue; past
//     max_dropped_pings the loop terminates.
//
// Error handling in workers:
//   - ErrResourceLocked from the executor → skip the item, info log, continue
//   - any other decode/execute fault → fresh correlation id, detail logged
//     under that id, transitioning=error reply published when the request
//     could be decoded
//   - a single failed item never stops a worker
//
// Shutdown is cooperative: workers re-check liveness on every empty dequeue,
// the reader re-checks after every line, and the dispatcher signals every
// started worker to stop once the read loop ends for any reason. Overload and
// liveness terminations are clean exits; only a failed subscribe handshake is
// surfaced as an error.
package dispatch
