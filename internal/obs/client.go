// Package obs controls an OBS Studio instance over obs-websocket v5.
//
// The Client keeps one connection, correlates requests with responses by id,
// applies a deadline to every request, and forwards recording state changes
// as model.RecordEvent values. A lost connection is reported as a
// model.ControllerLost event and re-established in the background by Run
// with exponential backoff; callers are expected to re-query the recording
// state before issuing further commands.
package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/websocket"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

var (
	ErrNotConnected = errors.New("obs: not connected")
	ErrTimeout      = errors.New("obs: request timed out")
	ErrClosed       = errors.New("obs: client closed")
	ErrAuthRequired = errors.New("obs: server requires a password")
)

// RequestError is a request OBS answered with a failure status.
type RequestError struct {
	Type    string
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("obs: %s failed (%d): %s", e.Type, e.Code, e.Comment)
	}
	return fmt.Sprintf("obs: %s failed (%d)", e.Type, e.Code)
}

// Is maps the output state codes onto model.ErrRecordingActive and
// model.ErrRecordingInactive.
func (e *RequestError) Is(target error) bool {
	switch e.Code {
	case codeOutputRunning:
		return target == model.ErrRecordingActive
	case codeOutputNotRunning:
		return target == model.ErrRecordingInactive
	}
	return false
}

// Options configures a Client.
type Options struct {
	URL      string
	Password string
	// Timeout bounds the handshake and every request.
	Timeout time.Duration
	// KeepAlive is the interval between liveness probes. Defaults to Timeout.
	KeepAlive time.Duration
	Logger    *slog.Logger
	// NewBackOff returns the reconnect schedule. Defaults to exponential
	// backoff from 500ms up to 30s.
	NewBackOff func() backoff.BackOff
}

// Client is an obs-websocket v5 client.
type Client struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan *requestResponse
	scene     string
	connected bool
	closed    bool

	events  chan model.RecordEvent
	lost    chan struct{}
	done    chan struct{}
	readers sync.WaitGroup
}

// New creates a client. Call Connect to establish the first connection.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = opts.Timeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		}
	}
	return &Client{
		opts:   opts,
		logger: opts.Logger,
		tracer: otel.Tracer("github.com/alfredjeanlab/lastplay/internal/obs"),
		events: make(chan model.RecordEvent, 64),
		lost:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Events delivers recording state changes and connection loss.
func (c *Client) Events() <-chan model.RecordEvent { return c.events }

// Connected reports whether requests can currently be sent.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials OBS, identifies, and verifies the connection with GetVersion.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	v, err := c.Version(ctx)
	if err != nil {
		return fmt.Errorf("verifying connection: %w", err)
	}
	c.logger.Info("connected to OBS", "url", c.opts.URL, "obs", v.OBSVersion, "websocket", v.OBSWebSocketVersion)
	return nil
}

// Run keeps the connection alive until ctx is cancelled or the client is
// closed: it probes liveness periodically and reconnects after a loss.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-c.lost:
			c.reconnect(ctx)
		case <-ticker.C:
			if c.Connected() {
				if _, err := c.Version(ctx); err != nil {
					c.logger.Debug("OBS keep-alive failed", "err", err)
				}
			}
		}
	}
}

func (c *Client) reconnect(ctx context.Context) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.dial(ctx)
		if errors.Is(err, ErrClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.opts.NewBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("OBS reconnect failed", "err", err, "retry_in", next)
		}),
	)
	switch {
	case err == nil:
		c.logger.Info("reconnected to OBS", "url", c.opts.URL)
	case errors.Is(err, ErrClosed) || ctx.Err() != nil:
	default:
		c.logger.Error("OBS reconnect gave up, will retry", "err", err)
		c.signalLost()
	}
}

func (c *Client) dial(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, err := websocket.NewConfig(c.opts.URL, "http://localhost/")
	if err != nil {
		return fmt.Errorf("obs url %q: %w", c.opts.URL, err)
	}
	cfg.Protocol = []string{subprotocol}
	cfg.Dialer = &net.Dialer{Timeout: c.opts.Timeout}

	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	if err := c.handshake(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.pending = make(map[string]chan *requestResponse)
	c.scene = ""
	c.connected = true
	c.mu.Unlock()

	c.readers.Add(1)
	go c.readLoop(conn)

	if _, err := c.CurrentScene(ctx); err != nil {
		c.logger.Debug("reading current scene", "err", err)
	}
	return nil
}

func (c *Client) handshake(conn *websocket.Conn) error {
	conn.SetDeadline(time.Now().Add(c.opts.Timeout))
	defer conn.SetDeadline(time.Time{})

	var msg message
	if err := websocket.JSON.Receive(conn, &msg); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if msg.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", msg.Op)
	}
	var h hello
	if err := json.Unmarshal(msg.D, &h); err != nil {
		return fmt.Errorf("decoding hello: %w", err)
	}

	id := identify{RPCVersion: rpcVersion, EventSubscriptions: subscribeOutputs | subscribeScenes}
	if h.Authentication != nil {
		if c.opts.Password == "" {
			return ErrAuthRequired
		}
		id.Authentication = authResponse(c.opts.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := c.send(conn, opIdentify, id); err != nil {
		return fmt.Errorf("sending identify: %w", err)
	}

	if err := websocket.JSON.Receive(conn, &msg); err != nil {
		return fmt.Errorf("identify rejected (check the OBS password): %w", err)
	}
	if msg.Op != opIdentified {
		return fmt.Errorf("expected identified, got op %d", msg.Op)
	}
	return nil
}

func (c *Client) send(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.Timeout))
	return websocket.JSON.Send(conn, message{Op: op, D: raw})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.readers.Done()
	for {
		var msg message
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			c.connectionLost(conn, err)
			return
		}
		switch msg.Op {
		case opRequestResponse:
			var resp requestResponse
			if err := json.Unmarshal(msg.D, &resp); err != nil {
				c.logger.Debug("bad request response", "err", err)
				continue
			}
			c.mu.Lock()
			ch := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()
			if ch != nil {
				ch <- &resp
			}
		case opEvent:
			c.handleEvent(msg.D)
		}
	}
}

func (c *Client) handleEvent(raw json.RawMessage) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.logger.Debug("bad event", "err", err)
		return
	}
	switch ev.EventType {
	case "RecordStateChanged":
		var d recordStateChanged
		if err := json.Unmarshal(ev.EventData, &d); err != nil {
			c.logger.Debug("bad RecordStateChanged", "err", err)
			return
		}
		switch d.OutputState {
		case outputStarted:
			c.emit(model.RecordEvent{Kind: model.RecordStarted, Path: d.OutputPath, At: time.Now()})
		case outputStopped:
			c.emit(model.RecordEvent{Kind: model.RecordStopped, Path: d.OutputPath, At: time.Now()})
		}
	case "CurrentProgramSceneChanged":
		var d programSceneChanged
		if err := json.Unmarshal(ev.EventData, &d); err == nil {
			c.mu.Lock()
			c.scene = d.SceneName
			c.mu.Unlock()
		}
	}
}

func (c *Client) emit(e model.RecordEvent) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}

func (c *Client) signalLost() {
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

func (c *Client) connectionLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	pending := c.pending
	c.pending = nil
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	for _, ch := range pending {
		close(ch)
	}
	if closed {
		return
	}
	c.logger.Warn("lost connection to OBS", "err", cause)
	c.emit(model.RecordEvent{Kind: model.ControllerLost, At: time.Now()})
	c.signalLost()
}

// dropConnection closes conn; the read loop then reports the loss.
func (c *Client) dropConnection(conn *websocket.Conn) {
	conn.Close()
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// call sends one request and waits for its response. A request that times
// out drops the connection, since its outcome on the OBS side is unknown.
func (c *Client) call(ctx context.Context, typ string, data, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "obs."+typ, trace.WithAttributes(attribute.String("obs.request_type", typ)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.mu.Lock()
	conn := c.conn
	if conn == nil || !c.connected {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", typ, ErrNotConnected)
	}
	id := uuid.NewString()
	ch := make(chan *requestResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(conn, opRequest, request{RequestType: typ, RequestID: id, RequestData: data}); err != nil {
		c.forget(id)
		c.dropConnection(conn)
		return fmt.Errorf("%s: %w: %v", typ, ErrNotConnected, err)
	}

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", typ, ErrNotConnected)
		}
		if !resp.RequestStatus.Result {
			return &RequestError{Type: typ, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("decoding %s response: %w", typ, err)
			}
		}
		return nil
	case <-timer.C:
		c.forget(id)
		c.logger.Warn("OBS request timed out", "request", typ, "timeout", c.opts.Timeout)
		c.dropConnection(conn)
		return fmt.Errorf("%s: %w", typ, ErrTimeout)
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// Close disconnects and stops background work. Pending requests fail with
// ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	c.readers.Wait()
	return nil
}
