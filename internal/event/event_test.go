package event

import (
	"strings"
	"testing"
)

func TestJSONDecoderDecode(t *testing.T) {
	t.Parallel()

	line := []byte(`{"id":"e1","name":"compute.create","replyTo":"reply.1","resourceId":"42","data":{"key":"value"}}`)

	req, err := JSONDecoder{}.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.ID != "e1" || req.Name != "compute.create" || req.ReplyTo != "reply.1" {
		t.Fatalf("unexpected request: %#v", req)
	}
	if req.Data["key"] != "value" {
		t.Fatalf("expected data to survive decode, got %#v", req.Data)
	}
}

func TestJSONDecoderRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		line string
	}{
		{"not json", "not json at all"},
		{"missing id", `{"name":"compute.create"}`},
		{"missing name", `{"id":"e1"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := (JSONDecoder{}).Decode([]byte(tc.line)); err == nil {
				t.Fatalf("expected decode error for %q", tc.line)
			}
		})
	}
}

func TestReplyKeyedToRequest(t *testing.T) {
	t.Parallel()

	req := &Request{
		ID:           "e1",
		Name:         "compute.create",
		ReplyTo:      "reply.1",
		ResourceType: "instance",
		ResourceID:   "42",
	}

	resp := Reply(req, map[string]any{"ok": true})
	if resp == nil {
		t.Fatal("expected a response for a replyable request")
	}
	if resp.Name != "reply.1" {
		t.Errorf("reply name = %q, want %q", resp.Name, "reply.1")
	}
	if len(resp.PreviousIDs) != 1 || resp.PreviousIDs[0] != "e1" {
		t.Errorf("previousIds = %v, want [e1]", resp.PreviousIDs)
	}
	if resp.ResourceType != "instance" || resp.ResourceID != "42" {
		t.Errorf("resource identity not carried: %#v", resp)
	}
	if resp.ID == "" || strings.EqualFold(resp.ID, req.ID) {
		t.Errorf("reply must carry a fresh id, got %q", resp.ID)
	}
	if resp.Data["ok"] != true {
		t.Errorf("data not carried: %#v", resp.Data)
	}
}

func TestReplyNilWithoutReplyTo(t *testing.T) {
	t.Parallel()

	req := &Request{ID: "e1", Name: "ping"}
	if resp := Reply(req, nil); resp != nil {
		t.Fatalf("expected nil reply for non-replyable request, got %#v", resp)
	}
	if resp := Reply(nil, nil); resp != nil {
		t.Fatalf("expected nil reply for nil request, got %#v", resp)
	}
}
