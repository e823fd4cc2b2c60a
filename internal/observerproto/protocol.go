package observerproto

import "encoding/json"

// Version is the observer protocol version.
const Version = "1.0"

// Message types.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeReset     = "RESET"
	TypeFrame     = "FRAME"
	TypeAck       = "ACK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// EveryNFrames decimates the stream: 1 sends every frame.
	EveryNFrames int `json:"every_n_frames,omitempty"`
	// IncludeLocal adds unspun lattice poses to each FRAME.
	IncludeLocal bool `json:"include_local,omitempty"`
}

// Client -> Server. Asks the scene to return to its initial state.
type ResetMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
}

// Server -> Client. Answer to RESET.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id,omitempty"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Frame           uint64 `json:"frame"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	SceneID         string      `json:"scene_id"`
	RunID           string      `json:"run_id"`
	Frame           uint64      `json:"frame"`
	SceneParams     SceneParams `json:"scene_params"`
}

type SceneParams struct {
	FrameRateHz    int        `json:"frame_rate_hz"`
	MoveDurationMs int        `json:"move_duration_ms"`
	IdleDelayMs    int        `json:"idle_delay_ms"`
	SpinRadPerSec  [3]float64 `json:"spin_rad_per_sec"`

	CubeletSize         float64 `json:"cubelet_size"`
	CubeletGap          float64 `json:"cubelet_gap"`
	CubeletCornerRadius float64 `json:"cubelet_corner_radius"`
	Spacing             float64 `json:"spacing"`
	Cubelets            int     `json:"cubelets"`
}

// Server -> Client. Sent every N frames.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Frame           uint64 `json:"frame"`
	MoveSeq         uint64 `json:"move_seq"`

	// Spin is the assembly's XYZ Euler rotation in radians.
	Spin   [3]float64 `json:"spin"`
	Paused bool       `json:"paused,omitempty"`
	Active *MoveState `json:"active,omitempty"`

	Poses      []Pose `json:"poses"`
	LocalPoses []Pose `json:"local_poses,omitempty"`
}

type MoveState struct {
	Seq       uint64  `json:"seq"`
	Axis      string  `json:"axis"`
	Layer     int     `json:"layer"`
	Direction int     `json:"direction"`
	Progress  float64 `json:"progress"`
}

// Pose places one cubelet. Rot is a unit quaternion ordered x, y, z, w.
type Pose struct {
	ID  string     `json:"id"`
	Pos [3]float64 `json:"pos"`
	Rot [4]float64 `json:"rot"`
}
