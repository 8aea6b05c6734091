package clearnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scikido/meter/internal/domain"
	"github.com/scikido/meter/internal/metrics"
)

// Dialer opens websocket connections to a clearnode endpoint. One
// connection is dialed per session.
type Dialer struct {
	url     string
	timeout time.Duration
	dials   atomic.Uint64
}

func NewDialer(url string, timeout time.Duration) *Dialer {
	return &Dialer{url: url, timeout: timeout}
}

func (d *Dialer) Dial(ctx context.Context) (domain.ChannelConn, error) {
	if d.dials.Add(1) > 1 {
		metrics.TransportReconnectsTotal.Inc()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrConnectionFailed, d.url, err)
	}

	return newConn(ws, d.timeout), nil
}

// Conn is one live connection. Safe for concurrent use: writes are
// serialized and responses are matched to waiting callers by request ID.
type Conn struct {
	ws      *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *message
	broken  bool

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, timeout time.Duration) *Conn {
	c := &Conn{
		ws:      ws,
		timeout: timeout,
		pending: make(map[uint64]chan *message),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer c.failPending()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		msg, err := parseEnvelope(data)
		if err != nil {
			slog.Debug("Discarding unparseable frame", "error", err)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg *message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.requestID]
	if ok {
		delete(c.pending, msg.requestID)
	}
	c.mu.Unlock()

	if !ok {
		// Unsolicited server push (balance notifications and the like).
		slog.Debug("Ignoring unsolicited message", "method", msg.method)
		return
	}

	ch <- msg
}

// failPending wakes every waiter once the read loop dies. Closed channels
// signal connection loss.
func (c *Conn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broken = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// call performs one signed request/response round trip and records
// transport metrics for it.
func (c *Conn) call(ctx context.Context, method string, params any, sign domain.QuorumSignFunc) (*message, error) {
	start := time.Now()
	msg, err := c.roundTrip(ctx, method, params, sign)

	status := "success"
	switch {
	case errors.Is(err, domain.ErrTransportTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	metrics.TransportCallsTotal.WithLabelValues(method, status).Inc()
	metrics.TransportCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	return msg, err
}

func (c *Conn) roundTrip(ctx context.Context, method string, params any, sign domain.QuorumSignFunc) (*message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id := c.nextID.Add(1)
	body, err := marshalRequestBody(id, method, params, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}

	var sigs []domain.Signature
	if sign != nil {
		sigs, err = sign(body)
		if err != nil {
			return nil, fmt.Errorf("failed to sign %s request: %w", method, err)
		}
	}

	frame, err := json.Marshal(envelope{Req: body, Sig: sigs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", method, err)
	}

	ch := make(chan *message, 1)
	c.mu.Lock()
	if c.broken {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: connection is closed", domain.ErrConnectionFailed)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	err = c.ws.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%w: write %s: %v", domain.ErrConnectionFailed, method, err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection lost awaiting %s response", domain.ErrConnectionFailed, method)
		}
		if msg.method == methodError {
			return nil, fmt.Errorf("%w: %s: %s", domain.ErrTransportRejected, method, msg.errorText())
		}
		return msg, nil
	case <-ctx.Done():
		c.forget(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: awaiting %s response", domain.ErrTransportTimeout, method)
		}
		return nil, ctx.Err()
	}
}

func (c *Conn) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

// quorumOf lifts a single-signature signer into the signature-set form
// the wire layer uses for every request.
func quorumOf(sign domain.SignFunc) domain.QuorumSignFunc {
	return func(payload []byte) ([]domain.Signature, error) {
		sig, err := sign(payload)
		if err != nil {
			return nil, err
		}
		return []domain.Signature{sig}, nil
	}
}
