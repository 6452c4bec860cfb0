package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/quillcast/quillcast/internal/config"
	"github.com/quillcast/quillcast/internal/protocol"
)

// Client wraps a NATS connection used to broadcast pipeline progress.
// A nil *Client is a valid no-op publisher, so callers never need to
// branch on whether the bus is enabled.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("quillcast"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))
	return &Client{conn: conn, log: log.With(slog.String("component", "bus"))}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// PublishEpisodeStatus broadcasts an episode transition. Publish
// failures are logged, never propagated: the bus is advisory and must
// not perturb the pipeline.
func (c *Client) PublishEpisodeStatus(ev protocol.EpisodeStatusEvent) {
	c.publish(protocol.SubjectEpisodeStatus, ev)
}

// PublishChunkStatus broadcasts a chunk transition.
func (c *Client) PublishChunkStatus(ev protocol.ChunkStatusEvent) {
	c.publish(protocol.SubjectChunkStatus, ev)
}

func (c *Client) publish(subject string, payload any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("failed to marshal event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.log.Warn("failed to publish event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
