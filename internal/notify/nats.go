// Package notify announces forwarded posts on NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/STRATINT/tweetrelay/internal/models"
)

// ForwardedMessage is the payload published for each forwarded post.
type ForwardedMessage struct {
	Post      models.ProcessedPost `json:"post"`
	Timestamp time.Time            `json:"timestamp"`
	Source    string               `json:"source"`
	Version   string               `json:"version"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes forwarded posts to a subject.
type NATSPublisher struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("tweetrelay"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSPublisher{conn: nc, pub: nc, subject: subject, logger: logger}, nil
}

// PublishForwarded publishes post on the configured subject.
func (p *NATSPublisher) PublishForwarded(ctx context.Context, post models.ProcessedPost) error {
	message := ForwardedMessage{
		Post:      post,
		Timestamp: time.Now(),
		Source:    "tweetrelay",
		Version:   "1.0",
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	if err := p.pub.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}

	p.logger.Debug("published forwarded post", "subject", p.subject, "post_id", post.PostID)
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}
