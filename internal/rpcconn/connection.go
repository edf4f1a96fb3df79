// Package rpcconn implements the bidirectional JSON-RPC Connection: a
// transport-agnostic multiplexer that frames outgoing messages, decodes
// incoming ones, and lets either side originate requests and
// notifications concurrently.
package rpcconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/firi/lspwire/internal/dispatch"
	"github.com/firi/lspwire/internal/frame"
	"github.com/firi/lspwire/internal/jsonrpc"
	"github.com/firi/lspwire/internal/lsptypes"
)

// DefaultRequestTimeout bounds how long SendRequest waits for a peer
// response when the caller's context carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// ErrClosed is returned by Connection methods once the connection has
// been closed, and completes any requests still in flight at Close.
var ErrClosed = errors.New("rpcconn: connection closed")

// Transport is the byte-stream a Connection frames messages over: a
// pipe, a stdio pair, a socket, or anything else io.ReadWriteCloser.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Options configures a Connection.
type Options struct {
	// RequestTimeout bounds SendRequest when ctx carries no deadline.
	// Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// MaxContentLength overrides frame.DefaultMaxContentLength.
	MaxContentLength int

	// Logger receives structured log lines tagged with a per-connection
	// session id. Defaults to slog.Default().
	Logger *slog.Logger
}

// Connection owns a Transport, a Dispatcher, an outbound id allocator, and
// the write-serializing outgoing channel that lets SendRequest,
// SendNotification, and response writes from concurrent incoming-request
// handlers share one transport safely.
type Connection struct {
	transport  Transport
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	sessionID  string
	timeout    time.Duration
	maxLen     int

	nextID atomic.Int64

	outgoing chan []byte
	// done is closed by Close, independent of Run ever being called, so
	// SendRequest/SendNotification/writeMessage never race against the
	// eg/cancel fields that Run assigns from its own goroutine.
	done chan struct{}

	// runMu guards eg/cancel: Run assigns them from whatever goroutine
	// calls it, and Close must not read a torn or stale value from another.
	runMu  sync.Mutex
	eg     *errgroup.Group
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New creates a Connection over transport, routing incoming messages
// through dispatcher. Call Run to start pumping; Run blocks until the
// transport is exhausted or ctx is cancelled.
func New(transport Transport, dispatcher *dispatch.Dispatcher, opts Options) *Connection {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := uuid.NewString()
	maxLen := opts.MaxContentLength
	if maxLen <= 0 {
		maxLen = frame.DefaultMaxContentLength
	}

	return &Connection{
		transport:  transport,
		dispatcher: dispatcher,
		logger:     logger.With("session_id", sessionID),
		sessionID:  sessionID,
		timeout:    timeout,
		maxLen:     maxLen,
		outgoing:   make(chan []byte, 64),
		done:       make(chan struct{}),
	}
}

func (c *Connection) maxContentLength() int { return c.maxLen }

// SessionID returns the per-connection id attached to this Connection's
// log lines.
func (c *Connection) SessionID() string { return c.sessionID }

// Run starts the writer and reader pumps and blocks until the transport
// errors, ctx is cancelled, or Close is called. The incoming-message
// dispatch loop is intentionally not serialized: each incoming Request or
// Notification is handled in its own supervised goroutine so a slow
// handler never blocks delivery of unrelated messages.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	group, egCtx := errgroup.WithContext(ctx)

	c.runMu.Lock()
	c.cancel = cancel
	c.eg = group
	c.runMu.Unlock()

	group.Go(func() error { return c.writeLoop(egCtx) })
	group.Go(func() error {
		// The reader ending (EOF or a read/decode error) also stops the
		// writer, so Run returns once the transport is exhausted.
		defer cancel()
		return c.readLoop(egCtx)
	})

	err := group.Wait()
	c.dispatcher.CancelAllPending(ErrClosed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Connection) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-c.outgoing:
			if !ok {
				return nil
			}
			if _, err := c.transport.Write(data); err != nil {
				return fmt.Errorf("rpcconn: write: %w", err)
			}
		}
	}
}

func (c *Connection) readLoop(ctx context.Context) error {
	decoder := frame.NewDecoderWithMax(c.maxContentLength())
	buf := make([]byte, 64*1024)

	for {
		n, err := c.transport.Read(buf)
		if n > 0 {
			msgs, decodeErr := decoder.Feed(buf[:n])
			for _, msg := range msgs {
				c.handleIncoming(ctx, msg)
			}
			if decodeErr != nil {
				c.logger.Warn("frame decode error, closing connection", "error", decodeErr)
				return decodeErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("rpcconn: read: %w", err)
		}
	}
}

func (c *Connection) handleIncoming(ctx context.Context, msg jsonrpc.Message) {
	switch msg.(type) {
	case jsonrpc.Request, jsonrpc.Notification:
		c.eg.Go(func() error {
			resp, err := c.dispatcher.Dispatch(ctx, msg)
			if err != nil {
				c.logger.Error("dispatch error", "error", err)
				return nil
			}
			if resp != nil {
				if writeErr := c.writeMessage(*resp); writeErr != nil {
					c.logger.Error("failed writing response", "error", writeErr)
				}
			}
			return nil
		})
	case jsonrpc.Response:
		if _, err := c.dispatcher.Dispatch(ctx, msg); err != nil {
			c.logger.Error("dispatch error", "error", err)
		}
	}
}

func (c *Connection) writeMessage(msg jsonrpc.Message) error {
	data, err := frame.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// SendRequest sends a request and blocks for its Response, honoring ctx's
// deadline/cancellation or the Connection's configured timeout, whichever
// is set. A peer error Response surfaces as a *jsonrpc.ResponseError.
func (c *Connection) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id := jsonrpc.NewNumberID(c.nextID.Add(1))
	pending := c.dispatcher.RegisterPending(id)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.writeMessage(jsonrpc.Request{ID: id, Method: method, Params: paramsJSON}); err != nil {
		c.dispatcher.CancelPending(id)
		return nil, err
	}

	select {
	case r := <-pending:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Result, nil
	case <-ctx.Done():
		c.dispatcher.CancelPending(id)
		return nil, ctx.Err()
	}
}

// SendNotification sends a fire-and-forget notification.
func (c *Connection) SendNotification(ctx context.Context, method string, params interface{}) error {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.writeMessage(jsonrpc.Notification{Method: method, Params: paramsJSON})
}

// SendProgress emits a $/progress notification carrying value under the
// given token. value is marshaled as-is; callers own its shape.
func (c *Connection) SendProgress(ctx context.Context, token lsptypes.ProgressToken, value interface{}) error {
	valueJSON, err := marshalParams(value)
	if err != nil {
		return err
	}
	return c.SendNotification(ctx, "$/progress", lsptypes.ProgressParams{Token: token, Value: valueJSON})
}

// SendLogTrace emits a $/logTrace notification. verbose is omitted from
// the wire payload when empty, matching LogTraceParams' optional field.
func (c *Connection) SendLogTrace(ctx context.Context, message, verbose string) error {
	params := lsptypes.LogTraceParams{Message: message}
	if verbose != "" {
		params.Verbose = &verbose
	}
	return c.SendNotification(ctx, "$/logTrace", params)
}

// Close stops the read/write pumps and fails every pending request with
// ErrClosed. Safe to call more than once and from any goroutine.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.runMu.Lock()
		cancel, group := c.cancel, c.eg
		c.runMu.Unlock()

		if cancel != nil {
			cancel()
		}
		// outgoing is never closed: concurrent SendRequest/SendNotification
		// callers may still be racing to send on it, and closing a channel
		// concurrently with a send is undefined. writeLoop instead exits via
		// ctx.Done(), and the channel is left for the GC.
		c.closeErr = c.transport.Close()
		if group != nil {
			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpcconn: encode params: %w", err)
	}
	return data, nil
}
