package capture

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/hasbegun/eyed/pb/eyed"
)

// StreamingClient owns the gRPC connection to the Gateway and the
// consumer half of the producer/consumer pair around a Ring. Reconnects
// use capped exponential backoff.
type StreamingClient struct {
	addr        string
	deviceID    string
	ring        *Ring
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
}

// NewStreamingClient builds a client that will dial addr on Run.
func NewStreamingClient(addr, deviceID string, ring *Ring, baseBackoff, maxBackoff time.Duration, logger *slog.Logger) *StreamingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamingClient{
		addr:        addr,
		deviceID:    deviceID,
		ring:        ring,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		logger:      logger,
	}
}

// Run connects, streams frames popped off the ring until the stream
// breaks or ctx is cancelled, then reconnects with capped backoff.
func (c *StreamingClient) Run(ctx context.Context) {
	backoff := c.baseBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.runOnce(ctx); err != nil {
			c.logger.Warn("capture stream disconnected, reconnecting", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}
		backoff = c.baseBackoff
	}
}

func (c *StreamingClient) runOnce(ctx context.Context) error {
	conn, err := grpc.NewClient(c.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	client := pb.NewCaptureServiceClient(conn)
	stream, err := client.StreamFrames(ctx)
	if err != nil {
		return err
	}

	for {
		item, ok := c.ring.TryPop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		frame, ok := item.(*pb.CaptureFrame)
		if !ok {
			continue
		}

		if err := stream.Send(frame); err != nil {
			return err
		}
		ack, err := stream.Recv()
		if err != nil {
			return err
		}
		if !ack.Accepted {
			c.logger.Debug("frame rejected by gateway", "frame_id", ack.FrameId, "queue_depth", ack.QueueDepth)
		}
	}
}
