package wire

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildAndParseFrameRoundTrip(t *testing.T) {
	payload, _ := json.Marshal(TaskResultPayload{TaskID: "t1", Value: json.RawMessage(`{"ok":true}`)})

	frame, err := buildFrame(KindTaskResult, payload, nil)
	if err != nil {
		t.Fatalf("buildFrame returned error: %v", err)
	}

	kind, decoded, err := parseFrameBytes(frame)
	if err != nil {
		t.Fatalf("parseFrameBytes returned error: %v", err)
	}
	if kind != KindTaskResult {
		t.Errorf("expected kind %s, got %s", KindTaskResult, kind)
	}

	var env envelope
	if err := json.Unmarshal(frame[headerSize:], &env); err != nil {
		t.Fatalf("expected an uncompressed body below the compression threshold, got: %v", err)
	}
	var out TaskResultPayload
	if err := json.Unmarshal(decoded, &out); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if out.TaskID != "t1" {
		t.Errorf("expected task id t1, got %s", out.TaskID)
	}
}

func TestBuildFrameCompressesAboveThreshold(t *testing.T) {
	big := strings.Repeat("x", CompressionThreshold+1024)
	payload, _ := json.Marshal(TaskResultPayload{TaskID: "t1", Value: json.RawMessage(`"` + big + `"`)})

	frame, err := buildFrame(KindTaskResult, payload, nil)
	if err != nil {
		t.Fatalf("buildFrame returned error: %v", err)
	}
	if frame[4]&flagCompressed == 0 {
		t.Fatal("expected the compressed flag to be set for a large payload")
	}

	kind, decoded, err := parseFrameBytes(frame)
	if err != nil {
		t.Fatalf("parseFrameBytes returned error: %v", err)
	}
	if kind != KindTaskResult {
		t.Errorf("expected kind %s, got %s", KindTaskResult, kind)
	}
	var out TaskResultPayload
	if err := json.Unmarshal(decoded, &out); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
}

func TestBuildFrameForceCompressOverridesSizeHeuristic(t *testing.T) {
	payload, _ := json.Marshal(TaskResultPayload{TaskID: "tiny"})
	forceOn := true

	frame, err := buildFrame(KindTaskResult, payload, &forceOn)
	if err != nil {
		t.Fatalf("buildFrame returned error: %v", err)
	}
	if frame[4]&flagCompressed == 0 {
		t.Fatal("expected forceCompress=true to set the compressed flag even for a tiny payload")
	}
}

func TestParseFrameBytesRejectsTruncatedInput(t *testing.T) {
	payload, _ := json.Marshal(TaskResultPayload{TaskID: "t1"})
	frame, err := buildFrame(KindTaskResult, payload, nil)
	if err != nil {
		t.Fatalf("buildFrame returned error: %v", err)
	}

	if _, _, err := parseFrameBytes(frame[:headerSize]); err == nil {
		t.Error("expected a truncated body to be rejected")
	}
	if _, _, err := parseFrameBytes(bytes.Repeat([]byte{0}, 2)); err == nil {
		t.Error("expected a header shorter than headerSize to be rejected")
	}
}
