package relay

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client represents one live transport connection with its send channel.
// The connection id is unique per transport session; a reconnect produces
// a fresh Client with a fresh id.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	userID string
}

// NewClient creates a new Client with a server-assigned connection id.
func NewClient(conn *websocket.Conn, sendBuffer int) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:     uuid.New().String(),
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close closes the client's send channel safely (only once) and cancels
// its context so the pumps exit.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.cancel()
		close(c.Send)
	}
}

// IsClosed returns whether the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Context returns the client's lifetime context.
func (c *Client) Context() context.Context {
	return c.ctx
}

// SetUserID records the announced logical identity of this connection.
// Empty until the connection sends addUser.
func (c *Client) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// UserID returns the announced logical identity, or "" while the
// connection is still unannounced.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// TrySend queues a frame without blocking. Returns false if the client is
// closed or its send channel is full.
func (c *Client) TrySend(message []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	// Hold the lock across the send so Close cannot close the channel
	// between the check and the write.
	defer c.mu.Unlock()

	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// AddGoroutine registers a pump goroutine for shutdown tracking.
func (c *Client) AddGoroutine() {
	c.wg.Add(1)
}

// DoneGoroutine marks a pump goroutine as finished.
func (c *Client) DoneGoroutine() {
	c.wg.Done()
}

// Wait blocks until all tracked goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}
