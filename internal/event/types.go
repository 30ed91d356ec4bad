package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Transitioning values carried on a published Response.
const (
	TransitioningYes   = "yes"
	TransitioningError = "error"
)

// Request is one decoded command from the subscription stream. Read-only
// once decoded.
type Request struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ReplyTo      string         `json:"replyTo,omitempty"`
	ResourceType string         `json:"resourceType,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Time         int64          `json:"time,omitempty"`
}

// Replyable reports whether the origin is listening for a reply to this
// request.
func (r *Request) Replyable() bool {
	return r != nil && r.ReplyTo != ""
}

// Response is a reply keyed to the request it answers. previousIds ties the
// reply back to the originating request on the wire.
type Response struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	PreviousIDs   []string `json:"previousIds"`
	PreviousNames []string `json:"previousNames,omitempty"`
	ResourceType  string   `json:"resourceType,omitempty"`
	ResourceID    string   `json:"resourceId,omitempty"`

	Transitioning                string `json:"transitioning,omitempty"`
	TransitioningMessage         string `json:"transitioningMessage,omitempty"`
	TransitioningProgress        any    `json:"transitioningProgress,omitempty"`
	TransitioningInternalMessage string `json:"transitioningInternalMessage,omitempty"`

	Data map[string]any `json:"data,omitempty"`
	Time int64          `json:"time"`
}

// Reply builds the response envelope for req carrying data. Returns nil when
// the request is not replyable; callers are expected to skip publishing in
// that case.
func Reply(req *Request, data map[string]any) *Response {
	if !req.Replyable() {
		return nil
	}
	return &Response{
		ID:            uuid.NewString(),
		Name:          req.ReplyTo,
		PreviousIDs:   []string{req.ID},
		PreviousNames: []string{req.Name},
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		Data:          data,
		Time:          time.Now().UnixMilli(),
	}
}

// WrapReply nests inner as the data payload of a reply to parent, so a reply
// composed for a child request bubbles up one level. Returns nil when parent
// is not replyable.
func WrapReply(parent *Request, inner *Response) *Response {
	if !parent.Replyable() {
		return nil
	}

	raw, err := json.Marshal(inner)
	if err != nil {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}

	return Reply(parent, data)
}
