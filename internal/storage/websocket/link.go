package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	outboxSize   = 10_000
	redialLimit  = 10
	redialCap    = 30 * time.Second
	writeTimeout = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// first redial delay, doubled per failed attempt up to redialCap
var redialBase = time.Second

// link is one logical connection to the relay. A supervisor goroutine owns
// the socket, pumps the outbox into it and redials with backoff when it
// fails. Acks are matched to waiters by message type in FIFO order.
type link struct {
	log    *slog.Logger
	target string

	outbox chan []byte
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	sticky  []byte
	waiters map[string][]chan struct{}
}

func newLink(log *slog.Logger) *link {
	ctx, stop := context.WithCancel(context.Background())
	return &link{
		log:     log,
		outbox:  make(chan []byte, outboxSize),
		ctx:     ctx,
		stop:    stop,
		waiters: make(map[string][]chan struct{}),
	}
}

// open dials once synchronously so a bad URL or secret fails Init.
func (l *link) open(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	l.target = u.String()

	conn, err := l.dial()
	if err != nil {
		return err
	}
	l.wg.Add(1)
	go l.supervise(conn)
	return nil
}

func (l *link) dial() (*ws.Conn, error) {
	conn, _, err := ws.DefaultDialer.DialContext(l.ctx, l.target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

func (l *link) supervise(conn *ws.Conn) {
	defer l.wg.Done()
	for conn != nil {
		err := l.serve(conn)
		if l.ctx.Err() != nil {
			return
		}
		l.log.Warn("WebSocket connection lost", "error", err)
		conn = l.redial()
	}
}

func (l *link) redial() *ws.Conn {
	wait := redialBase
	for attempt := 1; attempt <= redialLimit; attempt++ {
		select {
		case <-l.ctx.Done():
			return nil
		case <-time.After(wait):
		}

		conn, err := l.dial()
		if err == nil {
			if err = l.replaySticky(conn); err == nil {
				l.log.Info("WebSocket reconnected", "attempt", attempt)
				return conn
			}
			_ = conn.Close()
		}
		l.log.Warn("WebSocket redial failed", "attempt", attempt, "error", err)
		wait = min(wait*2, redialCap)
	}
	l.log.Error("Giving up on WebSocket relay", "attempts", redialLimit)
	return nil
}

// replaySticky resends the start_level message; the relay keys every later
// message by level.
func (l *link) replaySticky(conn *ws.Conn) error {
	l.mu.Lock()
	msg := l.sticky
	l.mu.Unlock()
	if msg == nil {
		return nil
	}
	return write(conn, ws.TextMessage, msg)
}

func (l *link) setSticky(msg []byte) {
	l.mu.Lock()
	l.sticky = msg
	l.mu.Unlock()
}

func write(conn *ws.Conn, kind int, msg []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, msg)
}

// serve runs until either direction of conn fails or the link stops. conn
// is closed on return.
func (l *link) serve(conn *ws.Conn) error {
	readErr := make(chan error, 1)
	go func() { readErr <- l.readAcks(conn) }()

	for {
		select {
		case <-l.ctx.Done():
			_ = write(conn, ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
			_ = conn.Close()
			<-readErr
			return nil
		case err := <-readErr:
			_ = conn.Close()
			return err
		case msg := <-l.outbox:
			if err := write(conn, ws.TextMessage, msg); err != nil {
				_ = conn.Close()
				<-readErr
				return err
			}
		}
	}
}

func (l *link) readAcks(conn *ws.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ack AckMessage
		if json.Unmarshal(msg, &ack) != nil || ack.Type != "ack" {
			l.log.Debug("Ignoring relay message", "raw", string(msg))
			continue
		}
		l.settle(ack.For)
	}
}

func (l *link) settle(kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.waiters[kind]
	if len(q) == 0 {
		l.log.Debug("Ack without waiter", "for", kind)
		return
	}
	close(q[0])
	l.waiters[kind] = q[1:]
}

func (l *link) forget(kind string, done chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waiters[kind] = slices.DeleteFunc(l.waiters[kind], func(c chan struct{}) bool { return c == done })
}

// push queues msg without blocking. A full outbox drops it.
func (l *link) push(msg []byte) bool {
	select {
	case l.outbox <- msg:
		return true
	default:
		l.log.Warn("WebSocket outbox full, dropping message")
		return false
	}
}

// request queues msg and waits for the relay's ack of kind.
func (l *link) request(ctx context.Context, msg []byte, kind string, timeout time.Duration) error {
	done := make(chan struct{})
	l.mu.Lock()
	l.waiters[kind] = append(l.waiters[kind], done)
	l.mu.Unlock()
	defer l.forget(kind, done)

	if !l.push(msg) {
		return fmt.Errorf("outbox full, %q not sent", kind)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-done:
		return nil
	case <-l.ctx.Done():
		return fmt.Errorf("link closed while waiting for %q ack", kind)
	case <-ctx.Done():
		return fmt.Errorf("waiting for %q ack: %w", kind, ctx.Err())
	}
}

// shutdown sends a close frame and waits for the supervisor to exit. It is
// safe to call more than once.
func (l *link) shutdown() error {
	l.stop()
	l.wg.Wait()
	return nil
}
