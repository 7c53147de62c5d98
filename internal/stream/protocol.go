package stream

import (
	"encoding/json"
	"time"

	"arbor/internal/config"
	"arbor/internal/growth"
	"arbor/internal/simulation"
)

type MessageType string

const (
	MessageHello   MessageType = "hello"
	MessageFrame   MessageType = "frame"
	MessageDone    MessageType = "done"
	MessageRestart MessageType = "restart"
)

type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
}

type Hello struct {
	Session string            `json:"session"`
	Tree    config.TreeConfig `json:"tree"`
}

// FramePayload carries the vertex buffer a renderer rebuilds its point
// buffers from. Vertices holds VertexCount xyz triplets.
type FramePayload struct {
	Session     string       `json:"session"`
	Iteration   int          `json:"iteration"`
	VertexCount int          `json:"vertexCount"`
	Vertices    []float32    `json:"vertices"`
	Stats       growth.Stats `json:"stats"`
}

type Done struct {
	Session string       `json:"session"`
	Stats   growth.Stats `json:"stats"`
}

type Restart struct {
	Session string `json:"session"`
	Reason  string `json:"reason"`
}

// NewFramePayload flattens a simulation frame for the wire.
func NewFramePayload(session string, f simulation.Frame) FramePayload {
	return FramePayload{
		Session:     session,
		Iteration:   f.Iteration,
		VertexCount: f.Mesh.VertexCount,
		Vertices:    []float32(f.Mesh.Vertices),
		Stats:       f.Stats,
	}
}

func Encode(msg Envelope) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
