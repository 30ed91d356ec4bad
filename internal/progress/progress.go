// Package progress composes intermediate "still working" replies for a
// request. Progress reporting is best-effort: a failed publish is swallowed
// so it can never abort the caller's execution path.
package progress

import (
	"log/slog"

	"github.com/croftlabs/drover/internal/event"
	"github.com/croftlabs/drover/internal/log"
)

// Publisher delivers a reply to the origin.
type Publisher interface {
	Publish(resp *event.Response) error
}

// Reporter is bound to one originating request, and optionally to a parent
// request the originating one is nested under. With a parent present every
// update is wrapped again keyed to the parent, so progress bubbles up one
// level.
type Reporter struct {
	req       *event.Request
	parent    *event.Request
	publisher Publisher
	logger    *slog.Logger
}

// NewReporter creates a Reporter for req. parent may be nil.
func NewReporter(publisher Publisher, req, parent *event.Request) *Reporter {
	logger := log.WithComponent("progress")
	if req != nil {
		logger = log.WithRequest(req.ID)
	}
	return &Reporter{
		req:       req,
		parent:    parent,
		publisher: publisher,
		logger:    logger,
	}
}

// Update publishes an intermediate reply with transitioning=yes carrying msg,
// an optional progress value, and optional data. Publish failures are logged
// at debug and otherwise ignored.
func (r *Reporter) Update(msg string, progressValue any, data map[string]any) {
	resp := event.Reply(r.req, data)
	if resp == nil {
		return
	}
	resp.Transitioning = event.TransitioningYes
	resp.TransitioningMessage = msg
	resp.TransitioningProgress = progressValue

	if r.parent != nil {
		wrapped := event.WrapReply(r.parent, resp)
		if wrapped == nil {
			return
		}
		wrapped.Transitioning = event.TransitioningYes
		wrapped.TransitioningMessage = msg
		wrapped.TransitioningProgress = progressValue
		resp = wrapped
	}

	if err := r.publisher.Publish(resp); err != nil {
		r.logger.Debug("progress publish failed, ignoring", "error", err)
	}
}

// LogReporter is a Reporter stand-in for execution paths that have no reply
// channel; updates go to the log only.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter() *LogReporter {
	return &LogReporter{logger: log.WithComponent("progress")}
}

func (r *LogReporter) Update(msg string, progressValue any, _ map[string]any) {
	r.logger.Info("progress", "message", msg, "progress", progressValue)
}
