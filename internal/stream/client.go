package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orbitwatch/internal/metrics"
)

// client manages a single SSE connection's write operations.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	limiter *rate.Limiter
	ip      string
	logger  *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// sendJSON marshals v as JSON and sends it as an SSE "data:" message.
// SSE format: "data: {json}\n\n"
func (c *client) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	msg := make([]byte, 0, len(data)+8)
	msg = append(msg, "data: "...)
	msg = append(msg, data...)
	msg = append(msg, "\n\n"...)

	if err := c.write(ctx, msg); err != nil {
		return err
	}
	c.messagesSent++
	return nil
}

// sendKeepalive sends an SSE comment line to keep the connection alive.
// SSE comment format: ":\n\n"
func (c *client) sendKeepalive(ctx context.Context) error {
	if err := c.write(ctx, []byte(":\n\n")); err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	return nil
}

// write sends msg in chunks no larger than the limiter burst, waiting for
// bandwidth before each chunk, then flushes.
func (c *client) write(ctx context.Context, msg []byte) error {
	burst := c.limiter.Burst()
	for len(msg) > 0 {
		chunk := msg
		if len(chunk) > burst {
			chunk = chunk[:burst]
		}
		if err := c.limiter.WaitN(ctx, len(chunk)); err != nil {
			return fmt.Errorf("bandwidth wait: %w", err)
		}

		// Extend write deadline before each write to prevent timeout on long-lived connections.
		if err := c.rc.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
			c.logger.Debug("could not set write deadline", "error", err)
		}
		n, err := c.w.Write(chunk)
		c.bytesSent += int64(n)
		metrics.AddStreamBytes(n)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		msg = msg[len(chunk):]
	}
	c.flusher.Flush()
	return nil
}
