package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func assertEqual(t *testing.T, got, want interface{}, field string) {
	t.Helper()
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Errorf("%s mismatch:\nwant: %s\ngot:  %s", field, wantJSON, gotJSON)
	}
}

func TestDecodeMessageRequest(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req, ok := msg.(Request)
	if !ok {
		t.Fatalf("expected Request, got %T", msg)
	}
	assertEqual(t, req.ID, NewNumberID(7), "id")
	assertEqual(t, req.Method, "ping", "method")
}

func TestDecodeMessageNotification(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","method":"noop"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := msg.(Notification); !ok {
		t.Fatalf("expected Notification, got %T", msg)
	}
}

func TestDecodeMessageResponseResult(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":42}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, ok := msg.(Response)
	if !ok {
		t.Fatalf("expected Response, got %T", msg)
	}
	if resp.ID == nil || resp.ID.Number() != 1 {
		t.Fatalf("expected id 1, got %v", resp.ID)
	}
	assertEqual(t, string(resp.Result), "42", "result")
}

func TestDecodeMessageResponseErrorAndResultRejected(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":-32600,"message":"bad"}}`))
	if err == nil {
		t.Fatal("expected error for result+error response")
	}
}

func TestDecodeMessageMissingJsonrpc(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"id":1,"method":"x"}`))
	if err == nil {
		t.Fatal("expected error for missing jsonrpc field")
	}
}

func TestDecodeMessageWrongJsonrpcVersion(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"jsonrpc":"1.0","id":1,"method":"x"}`))
	if err == nil {
		t.Fatal("expected error for wrong jsonrpc version")
	}
}

func TestDecodeMessageUnknownFieldsIgnored(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"x","extra":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := msg.(Request); !ok {
		t.Fatalf("expected Request, got %T", msg)
	}
}

func TestRequestIdStringVsNumberNotEqual(t *testing.T) {
	num := NewNumberID(42)
	str := NewStringID("42")
	if num == str {
		t.Fatal("numeric id 42 must not equal string id \"42\"")
	}
}

func TestRequestIdRoundTrip(t *testing.T) {
	for _, id := range []RequestId{NewNumberID(42), NewStringID("abc")} {
		data, err := json.Marshal(id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got RequestId
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got != id {
			t.Fatalf("round trip mismatch: want %v got %v", id, got)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	tests := []Message{
		Request{ID: NewNumberID(1), Method: "initialize", Params: json.RawMessage(`{"x":1}`)},
		Notification{Method: "initialized"},
		Response{ID: idPtr(NewNumberID(1)), Result: json.RawMessage(`"pong"`)},
		Response{ID: idPtr(NewStringID("a")), Error: NewResponseError(CodeMethodNotFound, "not found")},
	}
	for _, want := range tests {
		data, err := EncodeMessage(want)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodeMessage(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		assertEqual(t, got, want, "round trip")
	}
}

func TestDecodeMessageUnknownShape(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"jsonrpc":"2.0"}`))
	if err == nil || !strings.Contains(err.Error(), "invalid jsonrpc message") {
		t.Fatalf("expected invalid message error, got %v", err)
	}
}

func idPtr(id RequestId) *RequestId { return &id }
