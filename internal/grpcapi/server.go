// Package grpcapi implements the Gateway's CaptureService gRPC ingress:
// admission via circuit breaker, publish to the bus, atomic throughput
// counters exposed through GetStatus.
package grpcapi

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hasbegun/eyed/internal/breaker"
	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/metrics"
	pb "github.com/hasbegun/eyed/pb/eyed"
)

// Server implements pb.CaptureServiceServer.
type Server struct {
	pb.UnimplementedCaptureServiceServer

	bus     *bus.Client
	breaker *breaker.Breaker
	logger  *slog.Logger

	framesProcessed  atomic.Uint64
	framesRejected   atomic.Uint64
	connectedDevices atomic.Int32
	totalLatencyUS   atomic.Int64
}

// NewServer creates a CaptureService backed by the given bus client and
// admission breaker.
func NewServer(c *bus.Client, b *breaker.Breaker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{bus: c, breaker: b, logger: logger}
}

// SubmitFrame admits or rejects one frame, publishing accepted frames to
// eyed.analyze.
func (s *Server) SubmitFrame(ctx context.Context, frame *pb.CaptureFrame) (*pb.FrameAck, error) {
	metrics.BreakerState.Set(metrics.BreakerStateValue(s.breaker.State().String()))

	if !s.breaker.Allow() {
		s.framesRejected.Add(1)
		metrics.FramesRejected.WithLabelValues("breaker_open").Inc()
		s.logger.Warn("circuit breaker open, rejecting frame",
			"frame_id", frame.FrameId,
			"device_id", frame.DeviceId,
			"state", s.breaker.State().String(),
		)
		return &pb.FrameAck{FrameId: frame.FrameId, Accepted: false}, nil
	}

	start := time.Now()

	req := bus.AnalyzeRequest{
		FrameID:      strconv.FormatUint(frame.FrameId, 10),
		DeviceID:     frame.DeviceId,
		JPEGB64:      base64.StdEncoding.EncodeToString(frame.JpegData),
		EyeSide:      frame.EyeSide,
		IsNIR:        frame.IsNir,
		QualityScore: frame.QualityScore,
		Timestamp:    time.UnixMicro(int64(frame.TimestampUs)).UTC().Format(time.RFC3339Nano),
	}

	if err := s.bus.Publish(bus.SubjectAnalyze, req); err != nil {
		s.breaker.RecordFailure()
		metrics.FramesRejected.WithLabelValues("publish_failed").Inc()
		s.logger.Error("failed to publish frame", "frame_id", frame.FrameId, "error", err)
		return &pb.FrameAck{FrameId: frame.FrameId, Accepted: false}, nil
	}
	s.breaker.RecordSuccess()

	metrics.FramesReceived.WithLabelValues(frame.DeviceId).Inc()
	s.framesProcessed.Add(1)
	elapsed := time.Since(start).Microseconds()
	s.totalLatencyUS.Add(elapsed)

	s.logger.Debug("frame submitted",
		"frame_id", frame.FrameId,
		"device_id", frame.DeviceId,
		"latency_us", elapsed,
	)

	return &pb.FrameAck{FrameId: frame.FrameId, Accepted: true, QueueDepth: 0}, nil
}

// StreamFrames handles bidirectional streaming of frames,
// reusing SubmitFrame's admission and publish logic per message.
func (s *Server) StreamFrames(stream pb.CaptureService_StreamFramesServer) error {
	s.connectedDevices.Add(1)
	defer s.connectedDevices.Add(-1)

	s.logger.Info("streaming client connected")

	for {
		frame, err := stream.Recv()
		if err == io.EOF {
			s.logger.Info("streaming client disconnected")
			return nil
		}
		if err != nil {
			s.logger.Error("stream receive error", "error", err)
			return err
		}

		ack, err := s.SubmitFrame(stream.Context(), frame)
		if err != nil {
			return err
		}
		if err := stream.Send(ack); err != nil {
			s.logger.Error("stream send error", "error", err)
			return err
		}
	}
}

// GetStatus reports Gateway health and throughput.
func (s *Server) GetStatus(ctx context.Context, _ *pb.Empty) (*pb.ServerStatus, error) {
	processed := s.framesProcessed.Load()
	var avgLatency float32
	if processed > 0 {
		avgLatency = float32(s.totalLatencyUS.Load()) / float32(processed) / 1000.0
	}

	return &pb.ServerStatus{
		Alive:            true,
		Ready:            s.bus.IsConnected(),
		ConnectedDevices: uint32(s.connectedDevices.Load()),
		AvgLatencyMs:     avgLatency,
		FramesProcessed:  processed,
		BreakerState:     s.breaker.State().String(),
	}, nil
}
