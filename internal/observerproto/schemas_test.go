package observerproto

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestValidateClient_AcceptsSamples(t *testing.T) {
	samples := []string{
		`{"type":"SUBSCRIBE","protocol_version":"1.0"}`,
		`{"type":"SUBSCRIBE","protocol_version":"1.0","every_n_frames":2,"include_local":true}`,
		`{"type":"RESET","protocol_version":"1.0","request_id":"r1"}`,
	}
	for _, s := range samples {
		if _, err := ValidateClient([]byte(s)); err != nil {
			t.Fatalf("validate %s: %v", s, err)
		}
	}
}

func TestValidateClient_RejectsBadMessages(t *testing.T) {
	samples := []string{
		`{"type":"SUBSCRIBE"}`,
		`{"type":"SUBSCRIBE","protocol_version":"1.0","every_n_frames":-1}`,
		`{"type":"SUBSCRIBE","protocol_version":"1.0","chunk_radius":6}`,
		`{"type":"RESET","protocol_version":"1.0","request_id":7}`,
		`{"type":"HELLO","protocol_version":"1.0"}`,
		`not json`,
	}
	for _, s := range samples {
		if _, err := ValidateClient([]byte(s)); err == nil {
			t.Fatalf("expected rejection: %s", s)
		}
	}
}

func TestValidateClient_FrameIsServerOnly(t *testing.T) {
	b, _ := json.Marshal(sampleFrame())
	if _, err := Validate(b); err != nil {
		t.Fatalf("frame sample invalid: %v", err)
	}
	if _, err := ValidateClient(b); err == nil {
		t.Fatalf("FRAME accepted from a client")
	}
}

func TestValidate_FrameRequiresAllCubelets(t *testing.T) {
	f := sampleFrame()
	f.Poses = f.Poses[:26]
	b, _ := json.Marshal(f)
	if _, err := Validate(b); err == nil {
		t.Fatalf("frame with 26 poses accepted")
	}

	f = sampleFrame()
	f.Active = &MoveState{Seq: 1, Axis: "w", Layer: 0, Direction: 1}
	b, _ = json.Marshal(f)
	_, err := Validate(b)
	if err == nil || !strings.Contains(err.Error(), "FRAME") {
		t.Fatalf("bad axis: err=%v", err)
	}
}

func sampleFrame() FrameMsg {
	f := FrameMsg{
		Type:            TypeFrame,
		ProtocolVersion: Version,
		Frame:           12,
		MoveSeq:         3,
		Spin:            [3]float64{0.1, 0.2, 0.3},
		Active:          &MoveState{Seq: 3, Axis: "y", Layer: 0, Direction: -1, Progress: 0.5},
	}
	for _, x := range []int{-1, 0, 1} {
		for _, y := range []int{-1, 0, 1} {
			for _, z := range []int{-1, 0, 1} {
				f.Poses = append(f.Poses, Pose{
					ID:  fmt.Sprintf("cube-%d-%d-%d", x, y, z),
					Pos: [3]float64{float64(x), float64(y), float64(z)},
					Rot: [4]float64{0, 0, 0, 1},
				})
			}
		}
	}
	return f
}
