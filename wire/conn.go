package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"
)

// recvExact loops a short read until exactly n bytes are delivered. Any
// read failure, including a clean EOF, collapses to ErrConnectionLost: the
// framing layer cannot distinguish a graceful close from a torn one once
// bytes stop arriving.
func recvExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := r.Read(buf[read:])
		read += m
		if err != nil {
			if read == n {
				break
			}
			return nil, ErrConnectionLost
		}
	}
	return buf, nil
}

// sendAll loops a short write until every byte of data has been written.
func sendAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return ErrConnectionLost
		}
		data = data[n:]
	}
	return nil
}

// readFrame reads exactly one framed unit off r and decodes its body.
func readFrame(r io.Reader) (Kind, json.RawMessage, error) {
	lengthBytes, err := recvExact(r, 4)
	if err != nil {
		return "", nil, err
	}
	length := binary.BigEndian.Uint32(lengthBytes)

	flagsBytes, err := recvExact(r, 1)
	if err != nil {
		return "", nil, err
	}
	flags := flagsBytes[0]

	body, err := recvExact(r, int(length))
	if err != nil {
		return "", nil, err
	}

	return decodeBody(flags, body)
}

// Send serializes kind/payload and writes it to w, transparently chunking
// the transmission if the resulting frame exceeds MaxChunkSize. compress
// forces compression on (true) or off (false); pass nil for size-adaptive
// behavior.
func Send(w io.Writer, kind Kind, payload interface{}, compress *bool) error {
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	frame, err := buildFrame(kind, payloadRaw, compress)
	if err != nil {
		return err
	}

	if len(frame) <= MaxChunkSize {
		return sendAll(w, frame)
	}
	return sendChunked(w, kind, frame)
}

// sendChunked brackets a raw, already-built frame (the outer compression
// decision is already baked in) with CHUNK_START/CHUNK_DATA/CHUNK_END.
// The chunk envelopes themselves are never compressed: the inner payload
// was already compressed if it warranted it, and double-compressing would
// waste cycles for no benefit.
func sendChunked(w io.Writer, originalKind Kind, frame []byte) error {
	forceOff := false
	totalSize := len(frame)
	// Slices travel base64-encoded inside JSON, so each one is sized to keep
	// its whole CHUNK_DATA frame within MaxChunkSize; otherwise Send would
	// try to chunk the chunk.
	sliceSize := (MaxChunkSize - 1024) / 4 * 3
	numChunks := (totalSize + sliceSize - 1) / sliceSize

	if err := Send(w, KindChunkStart, chunkStartPayload{
		OriginalKind: originalKind,
		TotalSize:    totalSize,
		NumChunks:    numChunks,
	}, &forceOff); err != nil {
		return err
	}

	offset := 0
	for chunkNum := 0; offset < totalSize; chunkNum++ {
		end := offset + sliceSize
		if end > totalSize {
			end = totalSize
		}
		if err := Send(w, KindChunkData, chunkDataPayload{
			ChunkNum: chunkNum,
			Bytes:    frame[offset:end],
		}, &forceOff); err != nil {
			return err
		}
		offset = end
	}

	return Send(w, KindChunkEnd, chunkEndPayload{OriginalKind: originalKind}, &forceOff)
}

// Receive reads exactly one logical message off r, transparently
// reassembling a chunked transmission if one begins.
func Receive(r io.Reader) (Kind, json.RawMessage, error) {
	kind, payload, err := readFrame(r)
	if err != nil {
		return "", nil, err
	}

	if kind != KindChunkStart {
		return kind, payload, nil
	}
	return receiveChunked(r, payload)
}

func receiveChunked(r io.Reader, startPayload json.RawMessage) (Kind, json.RawMessage, error) {
	var start chunkStartPayload
	if err := json.Unmarshal(startPayload, &start); err != nil {
		return "", nil, newDecodeError(err)
	}
	if start.NumChunks < 0 {
		return "", nil, ErrProtocolViolation
	}

	chunks := make([][]byte, start.NumChunks)
	for i := 0; i < start.NumChunks; i++ {
		kind, payload, err := readFrame(r)
		if err != nil {
			return "", nil, err
		}
		if kind != KindChunkData {
			return "", nil, ErrProtocolViolation
		}
		var data chunkDataPayload
		if err := json.Unmarshal(payload, &data); err != nil {
			return "", nil, newDecodeError(err)
		}
		if data.ChunkNum < 0 || data.ChunkNum >= start.NumChunks {
			return "", nil, ErrProtocolViolation
		}
		chunks[data.ChunkNum] = data.Bytes
	}

	kind, payload, err := readFrame(r)
	if err != nil {
		return "", nil, err
	}
	if kind != KindChunkEnd {
		return "", nil, ErrProtocolViolation
	}
	_ = payload

	full := make([]byte, 0, start.TotalSize)
	for _, c := range chunks {
		if c == nil {
			return "", nil, ErrProtocolViolation
		}
		full = append(full, c...)
	}

	return parseFrameBytes(full)
}
