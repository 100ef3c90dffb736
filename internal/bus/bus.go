// Package bus wraps github.com/nats-io/nats.go into the request/reply and
// publish/subscribe primitives EyeD's components use to talk to each
// other. Message bodies are JSON; every subject carries a single, closed
// Go type rather than a free-form map.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects used across the core.
const (
	SubjectAnalyze             = "eyed.analyze"
	SubjectEnroll              = "eyed.enroll"
	SubjectEnrollBatch         = "eyed.enroll.batch"
	SubjectResult              = "eyed.result"
	SubjectEngineHealth        = "eyed.engine.health"
	SubjectKeyDecryptBatch     = "eyed.key.decrypt_batch"
	SubjectKeyDecryptTemplate  = "eyed.key.decrypt_template"
	SubjectKeyHealth           = "eyed.key.health"
)

// Client wraps a NATS connection with JSON request/reply helpers.
type Client struct {
	nc *nats.Conn
}

// Connect dials the NATS server at url, retrying with backoff until ctx is
// done.
func Connect(ctx context.Context, url string) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("bus reconnected", "url", nc.ConnectedUrl())
		}),
	}

	var nc *nats.Conn
	var err error
	for {
		nc, err = nats.Connect(url, opts...)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to bus %s: %w", url, ctx.Err())
		case <-time.After(time.Second):
		}
	}
	return &Client{nc: nc}, nil
}

// IsConnected reports bus connectivity for health aggregation.
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close drains in-flight work and closes the connection.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// Publish marshals v to JSON and publishes it on subject, fire-and-forget.
func (c *Client) Publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Request sends req on subject and decodes the single reply into resp,
// bounded by timeout.
func (c *Client) Request(ctx context.Context, subject string, req, resp interface{}, timeout time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", subject, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}

	if resp != nil {
		if err := json.Unmarshal(msg.Data, resp); err != nil {
			return fmt.Errorf("decode %s reply: %w", subject, err)
		}
	}
	return nil
}

// RequestStream publishes req on subject with a fresh inbox as its reply
// subject and returns a channel fed by every message the responder
// publishes to that inbox, for subjects like SubjectEnrollBatch where one
// request yields many replies over time rather than exactly one. The
// channel closes and the inbox
// subscription is torn down when ctx is cancelled.
func (c *Client) RequestStream(ctx context.Context, subject string, req interface{}) (<-chan []byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", subject, err)
	}

	inbox := c.nc.NewInbox()
	ch := make(chan []byte, 16)
	sub, err := c.nc.Subscribe(inbox, func(msg *nats.Msg) {
		select {
		case ch <- msg.Data:
		default:
			slog.Warn("bus stream receiver too slow, dropping message", "subject", subject)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe reply inbox for %s: %w", subject, err)
	}

	if err := c.nc.PublishMsg(&nats.Msg{Subject: subject, Reply: inbox, Data: data}); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("publish %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
		close(ch)
	}()
	return ch, nil
}

// RawHandler receives a decoded request body plus its reply inbox, for
// handlers that publish zero or more replies themselves instead of
// returning exactly one (the counterpart to RequestStream).
type RawHandler func(ctx context.Context, data []byte, reply string)

// SubscribeRaw registers subject with a handler that owns its own replies,
// used by the Engine for SubjectEnrollBatch.
func (c *Client) SubscribeRaw(subject string, handler RawHandler) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		go handler(context.Background(), msg.Data, msg.Reply)
	})
}

// ReplyHandler decodes a request body and returns the value to encode as
// the reply, or an error to log (no reply is sent on error — the caller's
// Request times out, which is the correct admission signal upstream).
type ReplyHandler func(ctx context.Context, data []byte) (interface{}, error)

// Subscribe registers a request/reply handler on subject, used by Engine
// and KeyService. Each message is handled on its own
// goroutine so a slow handler never blocks delivery of the next message;
// callers that need serialization (e.g. KeyService's crypto context)
// enforce it inside the handler.
func (c *Client) Subscribe(subject string, handler ReplyHandler) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		go func() {
			ctx := context.Background()
			out, err := handler(ctx, msg.Data)
			if err != nil {
				slog.Error("bus handler error", "subject", subject, "error", err)
				return
			}
			if msg.Reply == "" {
				return
			}
			data, err := json.Marshal(out)
			if err != nil {
				slog.Error("bus reply marshal error", "subject", subject, "error", err)
				return
			}
			if err := msg.Respond(data); err != nil {
				slog.Error("bus reply send error", "subject", subject, "error", err)
			}
		}()
	})
}

// SubscribeHandoff subscribes to subject and feeds decoded messages into a
// channel for a worker pool to drain, so handlers run as a message-passing
// loop rather than inline in the subscriber callback. The subscriber
// goroutine never blocks beyond the channel send.
func SubscribeHandoff[T any](c *Client, subject string, buffer int) (<-chan HandoffMsg[T], *nats.Subscription, error) {
	ch := make(chan HandoffMsg[T], buffer)
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			slog.Error("bus decode error", "subject", subject, "error", err)
			return
		}
		ch <- HandoffMsg[T]{Value: v, Reply: msg.Reply, raw: msg}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return ch, sub, nil
}

// HandoffMsg pairs a decoded payload with enough context to reply.
type HandoffMsg[T any] struct {
	Value T
	Reply string
	raw   *nats.Msg
}

// Respond publishes resp as JSON to the message's reply subject, if any.
func (h HandoffMsg[T]) Respond(c *Client, resp interface{}) error {
	if h.Reply == "" {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return c.nc.Publish(h.Reply, data)
}
