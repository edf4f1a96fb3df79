// Package dispatch implements the method registry that routes incoming
// JSON-RPC requests and notifications to handlers, and the pending-request
// table that completes outbound requests when their Response arrives.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/firi/lspwire/internal/jsonrpc"
)

// RequestHandler answers a JSON-RPC request. A returned error that is a
// *jsonrpc.ResponseError is propagated to the peer verbatim; any other
// error is converted to an InternalError response that hides its message
// unless the dispatcher is configured to include exception details.
type RequestHandler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// NotificationHandler processes a fire-and-forget call. Its error, if any,
// is routed to the dispatcher's NotificationErrorSink and never reaches
// the peer.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

var (
	tracer = otel.Tracer("lspwire/dispatch")
	meter  = otel.Meter("lspwire/dispatch")
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lspwire_dispatch_total",
		Help: "Number of dispatched JSON-RPC messages by kind and outcome.",
	}, []string{"kind", "method", "outcome"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "lspwire_dispatch_duration_seconds",
		Help: "Handler latency by method.",
	}, []string{"kind", "method"})
)

// handlerLatency is the otel counterpart to dispatchDuration, built lazily
// on first use since Meter.Float64Histogram can fail and package init must
// not.
var (
	handlerLatencyOnce sync.Once
	handlerLatency     otelmetric.Float64Histogram
)

func getHandlerLatency() otelmetric.Float64Histogram {
	handlerLatencyOnce.Do(func() {
		h, err := meter.Float64Histogram("lspwire.dispatch.handler_latency",
			otelmetric.WithDescription("Handler latency in seconds, by kind and method."),
			otelmetric.WithUnit("s"))
		if err != nil {
			handlerLatency = otelmetric.Float64Histogram(nil)
			return
		}
		handlerLatency = h
	})
	return handlerLatency
}

func recordLatency(ctx context.Context, kind, method string, started time.Time) {
	elapsed := time.Since(started).Seconds()
	dispatchDuration.WithLabelValues(kind, method).Observe(elapsed)
	if h := getHandlerLatency(); h != nil {
		h.Record(ctx, elapsed, otelmetric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("method", method),
		))
	}
}

// Options configures how the Dispatcher handles handler failures.
type Options struct {
	// IncludeExceptionDetails, when true, surfaces a handler panic or
	// unhandled error's message text to the peer. Default false: the
	// peer only ever sees the constant "Internal error" message.
	IncludeExceptionDetails bool

	// NotificationErrorSink, if set, receives (method, error) whenever a
	// registered notification handler returns an error. It is never
	// invoked for missing handlers (those are silently ignored).
	NotificationErrorSink func(method string, err error)
}

// pendingEntry is an outbound request awaiting its Response.
type pendingEntry struct {
	resultCh chan PendingResult
	once     sync.Once
}

type PendingResult struct {
	Result json.RawMessage
	Err    error
}

func (p *pendingEntry) complete(r PendingResult) {
	p.once.Do(func() { p.resultCh <- r })
}

// Dispatcher is the registry of method handlers plus the table of
// outstanding outbound requests. It is safe for concurrent use: handler
// registration, dispatch, and pending-table operations may all run
// concurrently.
type Dispatcher struct {
	opts Options

	mu                    sync.RWMutex
	requestHandlers       map[string]RequestHandler
	notificationHandlers  map[string]NotificationHandler

	pendingMu sync.Mutex
	pending   map[jsonrpc.RequestId]*pendingEntry
}

// New creates an empty Dispatcher.
func New(opts Options) *Dispatcher {
	return &Dispatcher{
		opts:                 opts,
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		pending:              make(map[jsonrpc.RequestId]*pendingEntry),
	}
}

// RegisterRequest registers (replacing any prior entry) the handler for a
// request method.
func (d *Dispatcher) RegisterRequest(method string, handler RequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requestHandlers[method] = handler
}

// RegisterNotification registers (replacing any prior entry) the handler
// for a notification method.
func (d *Dispatcher) RegisterNotification(method string, handler NotificationHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notificationHandlers[method] = handler
}

// RegisterPending creates a pending-request entry for an outbound id,
// returning a channel that receives exactly one result: the decoded
// result payload, or an error carrying the JSON-RPC failure.
func (d *Dispatcher) RegisterPending(id jsonrpc.RequestId) <-chan PendingResult {
	entry := &pendingEntry{resultCh: make(chan PendingResult, 1)}
	d.pendingMu.Lock()
	d.pending[id] = entry
	d.pendingMu.Unlock()
	return entry.resultCh
}

// CancelPending marks the pending future for id as cancelled; a Response
// that later arrives for this id is silently ignored by Dispatch.
func (d *Dispatcher) CancelPending(id jsonrpc.RequestId) {
	d.pendingMu.Lock()
	entry, ok := d.pending[id]
	delete(d.pending, id)
	d.pendingMu.Unlock()

	if ok {
		entry.complete(PendingResult{Err: ErrCancelled})
	}
}

// CancelAllPending fails every outstanding pending request, used on
// Connection close.
func (d *Dispatcher) CancelAllPending(err error) {
	d.pendingMu.Lock()
	entries := d.pending
	d.pending = make(map[jsonrpc.RequestId]*pendingEntry)
	d.pendingMu.Unlock()

	for _, entry := range entries {
		entry.complete(PendingResult{Err: err})
	}
}

// ErrCancelled is the error a pending future fails with when explicitly
// cancelled (as opposed to completed by a peer error Response).
var ErrCancelled = fmt.Errorf("request cancelled")

// requestIDKey is the context key under which Dispatch stashes the
// incoming request's id before invoking its handler, so a handler (or a
// layer wrapping it, such as the lifecycle gate's $/cancelRequest
// support) can correlate its own context with the wire id a peer would
// use to cancel it.
type requestIDKey struct{}

// RequestIDFromContext returns the incoming request id Dispatch attached
// to ctx, if any. Only populated for request handlers, never for
// notification handlers (notifications have no id to attach).
func RequestIDFromContext(ctx context.Context) (jsonrpc.RequestId, bool) {
	id, ok := ctx.Value(requestIDKey{}).(jsonrpc.RequestId)
	return id, ok
}

// Dispatch routes one incoming Message. For a Request it returns the
// Response to send back to the peer (never nil). For a Notification it
// invokes the handler (or silently ignores a missing one) and returns
// nil, nil. For a Response it completes the matching pending entry, if
// any, and returns nil, nil.
func (d *Dispatcher) Dispatch(ctx context.Context, msg jsonrpc.Message) (*jsonrpc.Response, error) {
	switch m := msg.(type) {
	case jsonrpc.Request:
		return d.dispatchRequest(ctx, m), nil
	case jsonrpc.Notification:
		d.dispatchNotification(ctx, m)
		return nil, nil
	case jsonrpc.Response:
		d.dispatchResponse(m)
		return nil, nil
	default:
		return nil, fmt.Errorf("dispatch: unknown message type %T", msg)
	}
}

func (d *Dispatcher) dispatchRequest(ctx context.Context, req jsonrpc.Request) *jsonrpc.Response {
	ctx, span := tracer.Start(ctx, "dispatch.request", oteltrace.WithAttributes(attribute.String("rpc.method", req.Method)))
	defer span.End()
	started := time.Now()
	defer recordLatency(ctx, "request", req.Method, started)

	d.mu.RLock()
	handler, ok := d.requestHandlers[req.Method]
	d.mu.RUnlock()

	id := req.ID
	if !ok {
		dispatchTotal.WithLabelValues("request", req.Method, "method_not_found").Inc()
		span.SetStatus(codes.Error, "method not found")
		return errorResponse(id, jsonrpc.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}

	ctx = context.WithValue(ctx, requestIDKey{}, id)
	result, err := d.invokeRequestHandler(ctx, handler, req.Params)
	if err != nil {
		var rpcErr *jsonrpc.ResponseError
		if asResponseError(err, &rpcErr) {
			dispatchTotal.WithLabelValues("request", req.Method, "handler_error").Inc()
			span.SetStatus(codes.Error, rpcErr.Message)
			return &jsonrpc.Response{ID: &id, Error: rpcErr}
		}
		dispatchTotal.WithLabelValues("request", req.Method, "internal_error").Inc()
		span.SetStatus(codes.Error, "internal error")
		message := "Internal error"
		if d.opts.IncludeExceptionDetails {
			message = err.Error()
		}
		return errorResponse(id, jsonrpc.CodeInternalError, message)
	}

	dispatchTotal.WithLabelValues("request", req.Method, "ok").Inc()
	return &jsonrpc.Response{ID: &id, Result: result}
}

// invokeRequestHandler calls handler, recovering a panic and converting it
// to a plain error so a crashing handler still yields a clean
// InternalError response instead of taking down the dispatch goroutine.
func (d *Dispatcher) invokeRequestHandler(ctx context.Context, handler RequestHandler, params json.RawMessage) (Result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, params)
}

func (d *Dispatcher) dispatchNotification(ctx context.Context, notif jsonrpc.Notification) {
	ctx, span := tracer.Start(ctx, "dispatch.notification", oteltrace.WithAttributes(attribute.String("rpc.method", notif.Method)))
	defer span.End()
	started := time.Now()
	defer recordLatency(ctx, "notification", notif.Method, started)

	d.mu.RLock()
	handler, ok := d.notificationHandlers[notif.Method]
	d.mu.RUnlock()

	if !ok {
		dispatchTotal.WithLabelValues("notification", notif.Method, "ignored").Inc()
		return
	}

	err := d.invokeNotificationHandler(ctx, handler, notif.Params)
	if err != nil {
		dispatchTotal.WithLabelValues("notification", notif.Method, "handler_error").Inc()
		span.SetStatus(codes.Error, err.Error())
		if d.opts.NotificationErrorSink != nil {
			d.opts.NotificationErrorSink(notif.Method, err)
		}
		return
	}
	dispatchTotal.WithLabelValues("notification", notif.Method, "ok").Inc()
}

func (d *Dispatcher) invokeNotificationHandler(ctx context.Context, handler NotificationHandler, params json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, params)
}

func (d *Dispatcher) dispatchResponse(resp jsonrpc.Response) {
	if resp.ID == nil {
		// A null-id response is a protocol-level parse error report; it
		// cannot be attributed to any pending request.
		return
	}

	d.pendingMu.Lock()
	entry, ok := d.pending[*resp.ID]
	if ok {
		delete(d.pending, *resp.ID)
	}
	d.pendingMu.Unlock()

	if !ok {
		// Surplus or unexpected response: silently ignored per spec.
		return
	}

	if resp.Error != nil {
		entry.complete(PendingResult{Err: resp.Error})
		return
	}
	entry.complete(PendingResult{Result: resp.Result})
}

func errorResponse(id jsonrpc.RequestId, code int32, message string) *jsonrpc.Response {
	return &jsonrpc.Response{ID: &id, Error: jsonrpc.NewResponseError(code, message)}
}

func asResponseError(err error, target **jsonrpc.ResponseError) bool {
	if rpcErr, ok := err.(*jsonrpc.ResponseError); ok {
		*target = rpcErr
		return true
	}
	return false
}
