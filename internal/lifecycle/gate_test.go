package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/firi/lspwire/internal/dispatch"
	"github.com/firi/lspwire/internal/jsonrpc"
	"github.com/firi/lspwire/internal/lsptypes"
)

func dispatchRequest(t *testing.T, d *dispatch.Dispatcher, id int64, method string, params json.RawMessage) *jsonrpc.Response {
	t.Helper()
	resp, err := d.Dispatch(context.Background(), jsonrpc.Request{ID: jsonrpc.NewNumberID(id), Method: method, Params: params})
	if err != nil {
		t.Fatalf("dispatch %s: %v", method, err)
	}
	return resp
}

func TestGateRejectsRequestBeforeInitialize(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	g := New(d, Options{})
	g.RegisterRequest("app/method", func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})

	resp := dispatchRequest(t, d, 1, "app/method", nil)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeServerNotInitialized {
		t.Fatalf("expected ServerNotInitialized, got %v", resp.Error)
	}
}

func TestGateInitializeSucceedsAndReturnsCapabilities(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	caps := json.RawMessage(`{"hoverProvider":true}`)
	g := New(d, Options{Capabilities: caps, ServerInfo: &lsptypes.ServerInfo{Name: "lspwired", Version: "0.1.0"}})

	resp := dispatchRequest(t, d, 1, "initialize", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	var result lsptypes.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if string(result.Capabilities) != string(caps) {
		t.Fatalf("capabilities mismatch: got %s", result.Capabilities)
	}
	if result.ServerInfo == nil || result.ServerInfo.Name != "lspwired" {
		t.Fatalf("server info mismatch: %v", result.ServerInfo)
	}
	if g.State() != Initialized {
		t.Fatalf("expected Initialized state, got %v", g.State())
	}
}

func TestGateDoubleInitializeRejected(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	New(d, Options{})

	dispatchRequest(t, d, 1, "initialize", nil)
	resp := dispatchRequest(t, d, 2, "initialize", nil)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidRequest {
		t.Fatalf("expected InvalidRequest on double initialize, got %v", resp.Error)
	}
}

func TestGateAllowsRequestAfterInitialize(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	g := New(d, Options{})
	g.RegisterRequest("app/method", func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	})

	dispatchRequest(t, d, 1, "initialize", nil)
	resp := dispatchRequest(t, d, 2, "app/method", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.Result) != `"ok"` {
		t.Fatalf("unexpected result: %s", resp.Result)
	}
}

func TestGateShutdownThenRejectsFurtherRequests(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	g := New(d, Options{})
	g.RegisterRequest("app/method", func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})

	dispatchRequest(t, d, 1, "initialize", nil)
	resp := dispatchRequest(t, d, 2, "shutdown", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected shutdown error: %v", resp.Error)
	}
	if string(resp.Result) != "null" {
		t.Fatalf("expected null result from shutdown, got %s", resp.Result)
	}
	if g.State() != ShuttingDown {
		t.Fatalf("expected ShuttingDown, got %v", g.State())
	}

	resp = dispatchRequest(t, d, 3, "app/method", nil)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidRequest {
		t.Fatalf("expected InvalidRequest after shutdown, got %v", resp.Error)
	}
}

func TestGateShutdownBeforeInitializeRejected(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	New(d, Options{})
	resp := dispatchRequest(t, d, 1, "shutdown", nil)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeServerNotInitialized {
		t.Fatalf("expected ServerNotInitialized, got %v", resp.Error)
	}
}

func TestGateExitInvokesOnExitAndSetsExited(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	exited := make(chan struct{})
	g := New(d, Options{OnExit: func() { close(exited) }})

	dispatchRequest(t, d, 1, "initialize", nil)
	if _, err := d.Dispatch(context.Background(), jsonrpc.Notification{Method: "exit"}); err != nil {
		t.Fatalf("dispatch exit: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("OnExit never invoked")
	}
	if g.State() != Exited {
		t.Fatalf("expected Exited, got %v", g.State())
	}
}

func TestGateSetTraceUpdatesLevel(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	g := New(d, Options{})

	params, _ := json.Marshal(lsptypes.SetTraceParams{Value: lsptypes.TraceVerbose})
	if _, err := d.Dispatch(context.Background(), jsonrpc.Notification{Method: "$/setTrace", Params: params}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if g.TraceLevel() != lsptypes.TraceVerbose {
		t.Fatalf("expected verbose trace, got %v", g.TraceLevel())
	}
}

func TestGateSetTraceMethodUpdatesLevelOutOfBand(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	g := New(d, Options{})

	if err := g.SetTrace(lsptypes.TraceMessages); err != nil {
		t.Fatalf("SetTrace: %v", err)
	}
	if g.TraceLevel() != lsptypes.TraceMessages {
		t.Fatalf("expected messages trace, got %v", g.TraceLevel())
	}

	if err := g.SetTrace(lsptypes.TraceValue("bogus")); err == nil {
		t.Fatal("expected error for unrecognized trace value")
	}
	if g.TraceLevel() != lsptypes.TraceMessages {
		t.Fatalf("trace level should be unchanged after rejected update, got %v", g.TraceLevel())
	}
}

func TestGateInitializeSeedsTraceFromParams(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	g := New(d, Options{})

	params, _ := json.Marshal(lsptypes.InitializeParams{Trace: lsptypes.TraceMessages})
	dispatchRequest(t, d, 1, "initialize", params)
	if g.TraceLevel() != lsptypes.TraceMessages {
		t.Fatalf("expected trace seeded from initialize params, got %v", g.TraceLevel())
	}
}

func TestGateCancelRequestCancelsHandlerContext(t *testing.T) {
	d := dispatch.New(dispatch.Options{})
	g := New(d, Options{})

	cancelled := make(chan struct{})
	g.RegisterRequest("app/slow", func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})

	dispatchRequest(t, d, 1, "initialize", nil)

	done := make(chan struct{})
	go func() {
		dispatchRequest(t, d, 2, "app/slow", nil)
		close(done)
	}()

	// give the handler goroutine a moment to register its cancel func
	time.Sleep(20 * time.Millisecond)

	idJSON, _ := json.Marshal(jsonrpc.NewNumberID(2))
	cancelParams, _ := json.Marshal(lsptypes.CancelParams{ID: idJSON})
	if _, err := d.Dispatch(context.Background(), jsonrpc.Notification{Method: "$/cancelRequest", Params: cancelParams}); err != nil {
		t.Fatalf("dispatch cancel: %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler context was never cancelled")
	}
	<-done
}
