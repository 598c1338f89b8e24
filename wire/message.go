// Package wire implements the length-prefixed, optionally-compressed,
// chunked message framing used on every coordinator-worker connection.
package wire

import "encoding/json"

// Kind identifies the logical message type carried by a frame. The set
// below is closed, but the decoder does not check it: a frame with an
// unrecognized kind decodes normally and is left to the receiver to reject.
type Kind string

const (
	KindRegisterWorker   Kind = "REGISTER_WORKER"
	KindWorkerRegistered Kind = "WORKER_REGISTERED"
	KindAuthFailed       Kind = "AUTH_FAILED"
	KindHeartbeat        Kind = "HEARTBEAT"
	KindTaskAssignment   Kind = "TASK_ASSIGNMENT"
	KindTaskResult       Kind = "TASK_RESULT"
	KindTaskError        Kind = "TASK_ERROR"
	KindWorkerStatus     Kind = "WORKER_STATUS"
	KindShutdown         Kind = "SHUTDOWN"

	// Reserved for remote job submission over the wire protocol, mirrored
	// today by the REST admin API's POST /jobs (see api.AdminAPIServer).
	KindSubmitJob  Kind = "SUBMIT_JOB"
	KindJobResult  Kind = "JOB_RESULT"
	KindJobError   Kind = "JOB_ERROR"

	// Framing-internal, never passed to a session's message handler.
	KindChunkStart Kind = "CHUNK_START"
	KindChunkData  Kind = "CHUNK_DATA"
	KindChunkEnd   Kind = "CHUNK_END"
)

// envelope is the body of every frame before chunking/compression.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// RegisterWorkerPayload is sent worker -> coordinator to join the pool.
type RegisterWorkerPayload struct {
	Name               string `json:"name"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks"`
	Token              string `json:"token,omitempty"`
}

// WorkerRegisteredPayload is sent coordinator -> worker on success.
type WorkerRegisteredPayload struct {
	WorkerID string `json:"worker_id"`
}

// AuthFailedPayload is sent coordinator -> worker on registration failure.
type AuthFailedPayload struct {
	Reason string `json:"reason"`
}

// HeartbeatPayload is sent worker -> coordinator periodically.
type HeartbeatPayload struct {
	WorkerID       string `json:"worker_id"`
	InFlight       int    `json:"in_flight"`
	CompletedCount uint64 `json:"completed_count"`
}

// TaskAssignmentPayload is sent coordinator -> worker.
type TaskAssignmentPayload struct {
	TaskID   string          `json:"task_id"`
	Function string          `json:"function"`
	Arg      json.RawMessage `json:"arg"`
}

// TaskResultPayload is sent worker -> coordinator on success.
type TaskResultPayload struct {
	TaskID string          `json:"task_id"`
	Value  json.RawMessage `json:"value"`
}

// TaskErrorPayload is sent worker -> coordinator on execution failure.
type TaskErrorPayload struct {
	TaskID       string `json:"task_id"`
	ErrorMessage string `json:"error_message"`
}

// WorkerStatusPayload carries free-form diagnostic counters. It never
// affects dispatch state.
type WorkerStatusPayload struct {
	Counters map[string]float64 `json:"counters,omitempty"`
}

// ShutdownPayload is empty; SHUTDOWN is bidirectional.
type ShutdownPayload struct{}

// SubmitJobPayload, JobResultPayload and JobErrorPayload are reserved for
// remote job submission directly over the worker-protocol wire, symmetric
// with the REST admin API's POST /jobs. Nothing in this implementation
// sends them over the wire today; they exist so a future coordinator-facing
// client can speak the same framing as workers do.
type SubmitJobPayload struct {
	Function  string            `json:"function"`
	Inputs    []json.RawMessage `json:"inputs"`
	TimeoutMS int64             `json:"timeout_ms"`
}

type JobResultPayload struct {
	Results []json.RawMessage `json:"results"`
}

type JobErrorPayload struct {
	FailedIndex int    `json:"failed_index"`
	Message     string `json:"message"`
}

type chunkStartPayload struct {
	OriginalKind Kind  `json:"original_kind"`
	TotalSize    int   `json:"total_size"`
	NumChunks    int   `json:"num_chunks"`
}

type chunkDataPayload struct {
	ChunkNum int    `json:"chunk_num"`
	Bytes    []byte `json:"bytes"`
}

type chunkEndPayload struct {
	OriginalKind Kind `json:"original_kind"`
}
