package wire

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := TaskAssignmentPayload{TaskID: "t1", Function: "square", Arg: json.RawMessage("4")}

	if err := Send(&buf, KindTaskAssignment, payload, nil); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	kind, raw, err := Receive(&buf)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if kind != KindTaskAssignment {
		t.Errorf("expected kind %s, got %s", KindTaskAssignment, kind)
	}

	var out TaskAssignmentPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if out.TaskID != "t1" || out.Function != "square" {
		t.Errorf("unexpected payload: %+v", out)
	}
}

func TestSendReceiveMultipleMessagesOnSameStream(t *testing.T) {
	var buf bytes.Buffer
	if err := Send(&buf, KindHeartbeat, HeartbeatPayload{WorkerID: "w1", InFlight: 2}, nil); err != nil {
		t.Fatalf("Send 1 returned error: %v", err)
	}
	if err := Send(&buf, KindHeartbeat, HeartbeatPayload{WorkerID: "w2", InFlight: 5}, nil); err != nil {
		t.Fatalf("Send 2 returned error: %v", err)
	}

	_, raw1, err := Receive(&buf)
	if err != nil {
		t.Fatalf("Receive 1 returned error: %v", err)
	}
	_, raw2, err := Receive(&buf)
	if err != nil {
		t.Fatalf("Receive 2 returned error: %v", err)
	}

	var hb1, hb2 HeartbeatPayload
	_ = json.Unmarshal(raw1, &hb1)
	_ = json.Unmarshal(raw2, &hb2)
	if hb1.WorkerID != "w1" || hb2.WorkerID != "w2" {
		t.Errorf("expected messages to decode in send order, got %+v then %+v", hb1, hb2)
	}
}

func TestSendChunksLargePayloadsAndReceiveReassembles(t *testing.T) {
	var buf bytes.Buffer
	// Force a payload well past MaxChunkSize once JSON-encoded, with
	// compression off so the repetitive body is not shrunk below it.
	big := strings.Repeat("a", MaxChunkSize*2+17)
	payload := TaskResultPayload{TaskID: "big", Value: json.RawMessage(`"` + big + `"`)}
	forceOff := false

	if err := Send(&buf, KindTaskResult, payload, &forceOff); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	kind, raw, err := Receive(&buf)
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if kind != KindTaskResult {
		t.Errorf("expected the reassembled kind to be %s, got %s", KindTaskResult, kind)
	}

	var out TaskResultPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("failed to decode reassembled payload: %v", err)
	}
	var decodedBig string
	if err := json.Unmarshal(out.Value, &decodedBig); err != nil {
		t.Fatalf("failed to decode inner value: %v", err)
	}
	if decodedBig != big {
		t.Error("expected the reassembled payload to match the original byte-for-byte")
	}
}

func TestReceiveOnEmptyStreamReturnsConnectionLost(t *testing.T) {
	var buf bytes.Buffer
	if _, _, err := Receive(&buf); err != ErrConnectionLost {
		t.Errorf("expected ErrConnectionLost on an empty stream, got %v", err)
	}
}

func TestReceiveRejectsChunkDataOutOfOrder(t *testing.T) {
	var buf bytes.Buffer
	forceOff := false

	if err := Send(&buf, KindChunkStart, chunkStartPayload{OriginalKind: KindTaskResult, TotalSize: 10, NumChunks: 2}, &forceOff); err != nil {
		t.Fatalf("Send CHUNK_START returned error: %v", err)
	}
	// Send WORKER_STATUS instead of the expected CHUNK_DATA.
	if err := Send(&buf, KindWorkerStatus, WorkerStatusPayload{}, &forceOff); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if _, _, err := Receive(&buf); err != ErrProtocolViolation {
		t.Errorf("expected ErrProtocolViolation, got %v", err)
	}
}
