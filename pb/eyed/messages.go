// Package eyed holds the message and service types for the gRPC
// CaptureService, hand-authored from eyed.proto in lieu of a
// protoc run. Messages are plain structs carrying JSON tags; they travel
// over grpc-go using the "json" codec registered in codec.go instead of
// the protobuf wire format.
package eyed

// CaptureFrame is one frame submitted by a capture device.
type CaptureFrame struct {
	JpegData     []byte  `json:"jpeg_data"`
	QualityScore float64 `json:"quality_score"`
	TimestampUs  uint64  `json:"timestamp_us"`
	FrameId      uint64  `json:"frame_id"`
	DeviceId     string  `json:"device_id"`
	EyeSide      string  `json:"eye_side"`
	IsNir        bool    `json:"is_nir"`
}

// FrameAck is the Gateway's admission response to a CaptureFrame.
type FrameAck struct {
	FrameId    uint64 `json:"frame_id"`
	Accepted   bool   `json:"accepted"`
	QueueDepth int64  `json:"queue_depth"`
}

// ServerStatus answers GetStatus.
type ServerStatus struct {
	Alive            bool    `json:"alive"`
	Ready            bool    `json:"ready"`
	ConnectedDevices uint32  `json:"connected_devices"`
	AvgLatencyMs     float32 `json:"avg_latency_ms"`
	FramesProcessed  uint64  `json:"frames_processed"`
	BreakerState     string  `json:"breaker_state"`
}

// Empty carries no data.
type Empty struct{}
