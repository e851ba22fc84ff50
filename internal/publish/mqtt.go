// Package publish delivers dashboard snapshots to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/gjr80/weewx-utilities/internal/dashboard"
)

var (
	// ErrFailedPost is returned once every attempt to publish has failed.
	ErrFailedPost = errors.New("failed to publish")

	errCircuitOpen    = errors.New("circuit breaker open")
	errPublishTimeout = errors.New("publish timeout")
	errInvalidConfig  = errors.New("invalid publish configuration")
)

// Client is the part of a paho client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Options control retries and message flags.
type Options struct {
	Topic  string
	Retain bool
	QoS    byte
	// MaxTries is the number of attempts before giving up.
	MaxTries int
	// RetryWait is the fixed pause between attempts.
	RetryWait time.Duration
	// Timeout bounds the wait for a single publish to complete.
	Timeout time.Duration
}

// MQTTPublisher publishes JSON snapshots through a shared client.
type MQTTPublisher struct {
	client  Client
	opts    Options
	circuit *gobreaker.CircuitBreaker
	log     *slog.Logger
}

func NewMQTTPublisher(client Client, opts Options, logger *slog.Logger) *MQTTPublisher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mqtt-publish",
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
	})
	return &MQTTPublisher{
		client:  client,
		opts:    opts,
		circuit: cb,
		log:     logger.With(slog.String("component", "publish")),
	}
}

// Publish sends snap as JSON to the configured topic.
func (p *MQTTPublisher) Publish(ctx context.Context, snap dashboard.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return p.PublishPayload(ctx, p.opts.Topic, payload)
}

// PublishPayload sends payload to topic, retrying up to MaxTries times with a
// fixed wait in between. An open circuit fails immediately.
func (p *MQTTPublisher) PublishPayload(ctx context.Context, topic string, payload []byte) error {
	if p.client == nil || topic == "" || p.opts.MaxTries < 1 || p.opts.RetryWait < 0 {
		return errInvalidConfig
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, err := p.circuit.Execute(func() (interface{}, error) {
			token := p.client.Publish(topic, p.opts.QoS, p.opts.Retain, payload)
			if !token.WaitTimeout(p.opts.Timeout) {
				return nil, errPublishTimeout
			}
			return nil, token.Error()
		})
		if err == nil {
			p.log.Debug("published", slog.String("topic", topic), slog.Int("bytes", len(payload)))
			return nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w: %v", ErrFailedPost, errCircuitOpen, err)
		}

		lastErr = err
		p.log.Debug("publish attempt failed",
			slog.String("topic", topic), slog.Int("attempt", attempt), slog.Any("error", err))
		if attempt >= p.opts.MaxTries {
			return fmt.Errorf("%w after %d tries: %w", ErrFailedPost, attempt, lastErr)
		}

		timer := time.NewTimer(p.opts.RetryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
