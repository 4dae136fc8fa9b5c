package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// SSEClient streams place events as Server-Sent Events.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
	done    chan struct{}
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger, done: make(chan struct{})}
}

// Send emits a place event frame.
func (c *SSEClient) Send(payload []byte) error {
	return c.write(fmt.Sprintf("event: place\ndata: %s\n\n", payload), "sse send failed")
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	return c.write(": ping\n\n", "sse heartbeat failed")
}

func (c *SSEClient) write(frame, failure string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if _, err := io.WriteString(c.writer, frame); err != nil {
		c.log.Warn(failure, "error", err)
		c.closeLocked()
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Done is closed once the stream stops accepting frames.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}
