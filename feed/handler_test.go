package feed

import (
	"context"
	"encoding/json"
	"testing"
)

func TestHandler_HandleSubscribe(t *testing.T) {
	t.Parallel()

	h := &Handler{logger: testLogger()}

	frame := &Frame{
		ID:     "req-1",
		Type:   FrameRequest,
		Method: MethodSubscribe,
		Data:   mustJSON(SubscribeRequest{Channel: "commands"}),
	}
	conn := NewConnection("conn-1", &Identity{Subject: "test", Scopes: []string{"*"}}, &JSONCodec{})

	resp := h.Handle(context.Background(), frame, conn)
	if resp == nil {
		t.Fatal("expected response")
	}
	if resp.Type != FrameResponse {
		t.Errorf("Type = %q, want %q", resp.Type, FrameResponse)
	}
	if resp.CorrelID != "req-1" {
		t.Errorf("CorrelID = %q, want %q", resp.CorrelID, "req-1")
	}

	var result map[string]string
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result["channel"] != "commands" {
		t.Errorf("channel = %q, want %q", result["channel"], "commands")
	}
	if result["status"] != "subscribed" {
		t.Errorf("status = %q, want %q", result["status"], "subscribed")
	}
}

func TestHandler_HandleUnsubscribe(t *testing.T) {
	t.Parallel()

	h := &Handler{logger: testLogger()}

	frame := &Frame{
		ID:     "req-2",
		Type:   FrameRequest,
		Method: MethodUnsubscribe,
		Data:   mustJSON(UnsubscribeRequest{Channel: "commands"}),
	}
	conn := NewConnection("conn-1", &Identity{Subject: "test", Scopes: []string{"*"}}, &JSONCodec{})

	resp := h.Handle(context.Background(), frame, conn)
	if resp == nil {
		t.Fatal("expected response")
	}
	if resp.Type != FrameResponse {
		t.Errorf("Type = %q, want %q", resp.Type, FrameResponse)
	}

	var result map[string]string
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result["status"] != "unsubscribed" {
		t.Errorf("status = %q, want %q", result["status"], "unsubscribed")
	}
}

func TestHandler_HandleSubscribeInvalidTopic(t *testing.T) {
	t.Parallel()

	h := &Handler{logger: testLogger()}

	frame := &Frame{
		ID:     "req-3",
		Type:   FrameRequest,
		Method: MethodSubscribe,
		Data:   mustJSON(SubscribeRequest{Channel: "invalid"}),
	}
	conn := NewConnection("conn-1", &Identity{Subject: "test", Scopes: []string{"*"}}, &JSONCodec{})

	resp := h.Handle(context.Background(), frame, conn)
	if resp == nil {
		t.Fatal("expected response")
	}
	if resp.Type != FrameErr {
		t.Errorf("Type = %q, want %q", resp.Type, FrameErr)
	}
	if resp.Error == nil {
		t.Fatal("expected error detail")
	}
	if resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("Error.Code = %d, want %d", resp.Error.Code, ErrCodeBadRequest)
	}
}

func TestHandler_HandleUnknownMethod(t *testing.T) {
	t.Parallel()

	h := &Handler{logger: testLogger()}

	frame := &Frame{
		ID:     "req-4",
		Type:   FrameRequest,
		Method: "nonexistent.method",
	}
	conn := NewConnection("conn-1", &Identity{Subject: "test", Scopes: []string{"*"}}, &JSONCodec{})

	resp := h.Handle(context.Background(), frame, conn)
	if resp == nil {
		t.Fatal("expected response")
	}
	if resp.Type != FrameErr {
		t.Errorf("Type = %q, want %q", resp.Type, FrameErr)
	}
	if resp.Error == nil {
		t.Fatal("expected error detail")
	}
	if resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("Error.Code = %d, want %d", resp.Error.Code, ErrCodeMethodNotFound)
	}
}

func TestHandler_HandleBadJSON(t *testing.T) {
	t.Parallel()

	h := &Handler{logger: testLogger()}

	frame := &Frame{
		ID:     "req-5",
		Type:   FrameRequest,
		Method: MethodSubscribe,
		Data:   json.RawMessage(`{invalid json}`),
	}
	conn := NewConnection("conn-1", &Identity{Subject: "test", Scopes: []string{"*"}}, &JSONCodec{})

	resp := h.Handle(context.Background(), frame, conn)
	if resp == nil {
		t.Fatal("expected response")
	}
	if resp.Type != FrameErr {
		t.Errorf("Type = %q, want %q", resp.Type, FrameErr)
	}
}

// mustJSON marshals to JSON or panics.
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
