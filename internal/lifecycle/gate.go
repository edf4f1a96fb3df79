// Package lifecycle implements the server-side state machine that gates
// a Dispatcher's request handling by the initialize/initialized/
// shutdown/exit sequence, mirroring the handshake teacher's own
// ClangdClient performs against its clangd subprocess, generalized into
// a reusable decorator over any Dispatcher.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/firi/lspwire/internal/dispatch"
	"github.com/firi/lspwire/internal/jsonrpc"
	"github.com/firi/lspwire/internal/lsptypes"
)

// State is a position in the Starting -> Initialized -> ShuttingDown ->
// Exited sequence.
type State int

const (
	Starting State = iota
	Initialized
	ShuttingDown
	Exited
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Initialized:
		return "initialized"
	case ShuttingDown:
		return "shutting_down"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Options configures a Gate.
type Options struct {
	// Capabilities is the server's pre-declared capability object,
	// returned verbatim from initialize.
	Capabilities json.RawMessage

	// ServerInfo is optionally returned from initialize.
	ServerInfo *lsptypes.ServerInfo

	// OnExit is invoked once when the exit notification arrives, after
	// the state transitions to Exited. Typically closes the Connection.
	OnExit func()

	// OnInitialize, if set, is consulted after InitializeParams decode
	// and before the Initialized transition, letting the embedding
	// server validate or record the peer's declared capabilities.
	OnInitialize func(ctx context.Context, params lsptypes.InitializeParams) error
}

// Gate wraps a Dispatcher with the LSP lifecycle rules. Construct it with
// New, which registers the reserved lifecycle methods directly on the
// Dispatcher; register application methods through the Gate's
// RegisterRequest/RegisterNotification, not the Dispatcher's, so they
// inherit the state checks.
type Gate struct {
	dispatcher *dispatch.Dispatcher
	opts       Options

	mu    sync.Mutex
	state State
	trace lsptypes.TraceValue

	cancelMu sync.Mutex
	cancels  map[jsonrpc.RequestId]context.CancelFunc
}

// New creates a Gate over dispatcher and registers initialize,
// initialized, shutdown, exit, $/setTrace, and $/cancelRequest on it.
func New(dispatcher *dispatch.Dispatcher, opts Options) *Gate {
	g := &Gate{
		dispatcher: dispatcher,
		opts:       opts,
		state:      Starting,
		trace:      lsptypes.TraceOff,
		cancels:    make(map[jsonrpc.RequestId]context.CancelFunc),
	}

	dispatcher.RegisterRequest("initialize", g.handleInitialize)
	dispatcher.RegisterNotification("initialized", g.handleInitialized)
	dispatcher.RegisterRequest("shutdown", g.handleShutdown)
	dispatcher.RegisterNotification("exit", g.handleExit)
	dispatcher.RegisterNotification("$/setTrace", g.handleSetTrace)
	dispatcher.RegisterNotification("$/cancelRequest", g.handleCancelRequest)

	return g
}

// State returns the gate's current lifecycle state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// TraceLevel returns the current trace verbosity.
func (g *Gate) TraceLevel() lsptypes.TraceValue {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.trace
}

// SetTrace updates the trace verbosity from outside the wire protocol,
// e.g. an operator editing a live config file. It rejects the same
// unrecognized values $/setTrace does.
func (g *Gate) SetTrace(value lsptypes.TraceValue) error {
	if !value.IsValid() {
		return fmt.Errorf("lifecycle: unrecognized trace value %q", value)
	}
	g.mu.Lock()
	g.trace = value
	g.mu.Unlock()
	return nil
}

// RegisterRequest registers method on the underlying Dispatcher, wrapping
// handler so it runs only once the gate has left Starting and is not yet
// ShuttingDown. A request arriving in Starting fails with
// ServerNotInitialized; one arriving in ShuttingDown (or after Exited)
// fails with InvalidRequest.
func (g *Gate) RegisterRequest(method string, handler dispatch.RequestHandler) {
	g.dispatcher.RegisterRequest(method, g.gateRequest(method, handler))
}

// RegisterNotification registers method on the underlying Dispatcher. Per
// spec, notifications are not rejected by state the way requests are;
// the gate delivers them to handler unconditionally once registered,
// since a misordered notification has no reply channel to carry an
// error back on anyway.
func (g *Gate) RegisterNotification(method string, handler dispatch.NotificationHandler) {
	g.dispatcher.RegisterNotification(method, handler)
}

func (g *Gate) gateRequest(method string, handler dispatch.RequestHandler) dispatch.RequestHandler {
	return func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		state := g.State()
		switch state {
		case Starting:
			return nil, jsonrpc.NewResponseError(jsonrpc.CodeServerNotInitialized,
				fmt.Sprintf("Server not initialized, cannot process request: %s", method))
		case ShuttingDown, Exited:
			return nil, jsonrpc.NewResponseError(jsonrpc.CodeInvalidRequest,
				fmt.Sprintf("Server is shutting down, cannot process request: %s", method))
		}

		ctx, cancel := g.trackCancellable(ctx)
		defer cancel()
		return handler(ctx, params)
	}
}

// trackCancellable derives a cancellable context from ctx and, if the
// incoming request id is present, remembers its cancel func so a
// subsequent $/cancelRequest for the same id can invoke it.
func (g *Gate) trackCancellable(ctx context.Context) (context.Context, context.CancelFunc) {
	derived, cancel := context.WithCancel(ctx)
	id, ok := dispatch.RequestIDFromContext(ctx)
	if !ok {
		return derived, cancel
	}

	g.cancelMu.Lock()
	g.cancels[id] = cancel
	g.cancelMu.Unlock()

	wrapped := func() {
		g.cancelMu.Lock()
		delete(g.cancels, id)
		g.cancelMu.Unlock()
		cancel()
	}
	return derived, wrapped
}

func (g *Gate) handleInitialize(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	g.mu.Lock()
	if g.state != Starting {
		state := g.state
		g.mu.Unlock()
		return nil, jsonrpc.NewResponseError(jsonrpc.CodeInvalidRequest,
			fmt.Sprintf("Server already initialized (state: %s)", state))
	}
	g.mu.Unlock()

	var initParams lsptypes.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, jsonrpc.NewResponseError(jsonrpc.CodeInvalidParams, "initialize: invalid params: "+err.Error())
		}
	}

	if initParams.Trace.IsValid() {
		g.mu.Lock()
		g.trace = initParams.Trace
		g.mu.Unlock()
	}

	if g.opts.OnInitialize != nil {
		if err := g.opts.OnInitialize(ctx, initParams); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	g.state = Initialized
	g.mu.Unlock()

	result := lsptypes.InitializeResult{
		Capabilities: g.opts.Capabilities,
		ServerInfo:   g.opts.ServerInfo,
	}
	return json.Marshal(result)
}

func (g *Gate) handleInitialized(ctx context.Context, params json.RawMessage) error {
	return nil
}

func (g *Gate) handleShutdown(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	g.mu.Lock()
	if g.state == Starting {
		g.mu.Unlock()
		return nil, jsonrpc.NewResponseError(jsonrpc.CodeServerNotInitialized, "Server not initialized, cannot process request: shutdown")
	}
	g.state = ShuttingDown
	g.mu.Unlock()
	return json.RawMessage("null"), nil
}

func (g *Gate) handleExit(ctx context.Context, params json.RawMessage) error {
	g.mu.Lock()
	g.state = Exited
	g.mu.Unlock()

	g.cancelMu.Lock()
	for id, cancel := range g.cancels {
		cancel()
		delete(g.cancels, id)
	}
	g.cancelMu.Unlock()

	if g.opts.OnExit != nil {
		g.opts.OnExit()
	}
	return nil
}

func (g *Gate) handleSetTrace(ctx context.Context, params json.RawMessage) error {
	var setTrace lsptypes.SetTraceParams
	if err := json.Unmarshal(params, &setTrace); err != nil {
		return fmt.Errorf("$/setTrace: invalid params: %w", err)
	}
	if !setTrace.Value.IsValid() {
		return fmt.Errorf("$/setTrace: unrecognized trace value %q", setTrace.Value)
	}
	g.mu.Lock()
	g.trace = setTrace.Value
	g.mu.Unlock()
	return nil
}

func (g *Gate) handleCancelRequest(ctx context.Context, params json.RawMessage) error {
	var cancelParams lsptypes.CancelParams
	if err := json.Unmarshal(params, &cancelParams); err != nil {
		return fmt.Errorf("$/cancelRequest: invalid params: %w", err)
	}

	var id jsonrpc.RequestId
	if err := json.Unmarshal(cancelParams.ID, &id); err != nil {
		return fmt.Errorf("$/cancelRequest: invalid id: %w", err)
	}

	g.cancelMu.Lock()
	cancel, ok := g.cancels[id]
	delete(g.cancels, id)
	g.cancelMu.Unlock()

	if ok {
		cancel()
	}
	return nil
}
