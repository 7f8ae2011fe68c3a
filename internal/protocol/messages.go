package protocol

import (
	"encoding/json"
	"fmt"

	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/geom"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// RunID is stamped on the server's log lines for this session.
	RunID string `json:"run_id,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	Scene           SceneInfo `json:"scene"`
}

type SceneInfo struct {
	Name     string        `json:"name,omitempty"`
	Objects  int           `json:"objects"`
	Robot    engine.Handle `json:"robot"`
	HasPaths bool          `json:"has_paths"`
}

// CALL (client -> server): one engine boundary method.
type CallMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              uint64          `json:"id"`
	Method          string          `json:"method"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// RESULT (server -> client). Exactly one per CALL, in call order.
type ResultMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              uint64          `json:"id"`
	OK              bool            `json:"ok"`
	Result          json.RawMessage `json:"result,omitempty"`
	Code            string          `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`
}

// Error is a failed RESULT surfaced to the caller.
type Error struct {
	Method  string
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}

// Methods.
const (
	MethodObjects            = "objects"
	MethodInstanceNames      = "instance_names"
	MethodRobot              = "robot"
	MethodPose               = "pose"
	MethodSetPose            = "set_pose"
	MethodAABB               = "aabb"
	MethodNativeSize         = "native_size"
	MethodImmovable          = "immovable"
	MethodSetImmovable       = "set_immovable"
	MethodZeroVelocity       = "zero_velocity"
	MethodEvaluate           = "evaluate"
	MethodStep               = "step"
	MethodHeld               = "held"
	MethodReleaseImmediately = "release_immediately"
	MethodSetHead            = "set_head_pan_tilt"
	MethodBegin              = "begin"
	MethodAdvance            = "advance"
	MethodSampleInside       = "sample_inside"
	MethodSampleOnTop        = "sample_on_top"
	MethodShortestPath       = "shortest_path"
)

type HandleArgs struct {
	Handle engine.Handle `json:"handle"`
}

type SetPoseArgs struct {
	Handle engine.Handle `json:"handle"`
	Pose   geom.Pose     `json:"pose"`
}

type SetImmovableArgs struct {
	Handle engine.Handle `json:"handle"`
	Value  bool          `json:"value"`
}

type EvaluateArgs struct {
	Kind   engine.PredicateKind `json:"kind"`
	Handle engine.Handle        `json:"handle"`
	Other  engine.Handle        `json:"other,omitempty"`
}

type StepArgs struct {
	Action engine.Action `json:"action"`
}

type HeadArgs struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
}

type BeginArgs struct {
	Kind   engine.ActionKind `json:"kind"`
	Target engine.Handle     `json:"target,omitempty"`
}

// BeginReply names the server-side plan; advance it with AdvanceArgs.
type BeginReply struct {
	Plan string `json:"plan"`
}

type AdvanceArgs struct {
	Plan string `json:"plan"`
}

type AdvanceReply struct {
	Action engine.Action `json:"action"`
	Done   bool          `json:"done"`
}

type SampleArgs struct {
	Object   engine.Handle `json:"object"`
	Target   engine.Handle `json:"target"`
	Attempts int           `json:"attempts"`
}

type PathArgs struct {
	Floor        int       `json:"floor"`
	Src          geom.Vec2 `json:"src"`
	Dst          geom.Vec2 `json:"dst"`
	FullPath     bool      `json:"full_path"`
	RobotErosion bool      `json:"robot_erosion"`
}

type PathReply struct {
	Points []geom.Vec2 `json:"points"`
}

type BoolReply struct {
	Value bool `json:"value"`
}

type HandleReply struct {
	Handle engine.Handle `json:"handle"`
}

type SizeReply struct {
	Size geom.Vec3 `json:"size"`
	OK   bool      `json:"ok"`
}

type HeldReply struct {
	Handle  engine.Handle `json:"handle,omitempty"`
	Holding bool          `json:"holding"`
}
