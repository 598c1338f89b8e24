package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/flate"
)

const (
	// MaxChunkSize is the largest body a single framed unit may carry
	// before the sender must switch to chunked transmission.
	MaxChunkSize = 4 * 1024 * 1024

	// CompressionThreshold is the serialized-body size above which the
	// sender compresses by default.
	CompressionThreshold = 512 * 1024

	// flagCompressed is bit 0 of the frame's flags byte.
	flagCompressed byte = 0x01

	// compressionLevel is "moderate" per the spec's wording, matching the
	// original implementation's zlib level 6.
	compressionLevel = 6
)

const headerSize = 4 + 1 // length + flags

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, compressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(body []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(body))
	defer r.Close()
	return io.ReadAll(r)
}

// buildFrame serializes an envelope into a single wire unit:
// [4-byte BE length][1-byte flags][body]. forceCompress, when non-nil,
// forces compression on or off; when nil the decision is size-adaptive.
func buildFrame(kind Kind, payload json.RawMessage, forceCompress *bool) ([]byte, error) {
	body, err := json.Marshal(envelope{Kind: kind, Payload: payload})
	if err != nil {
		return nil, err
	}

	useCompression := len(body) > CompressionThreshold
	if forceCompress != nil {
		useCompression = *forceCompress
	}

	var flags byte
	if useCompression {
		compressed, err := compress(body)
		if err != nil {
			return nil, err
		}
		body = compressed
		flags |= flagCompressed
	}

	frame := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)))
	frame[4] = flags
	copy(frame[headerSize:], body)
	return frame, nil
}

// parseFrameBytes decodes a complete in-memory frame (as reconstituted from
// chunk fragments) into its kind and payload.
func parseFrameBytes(frame []byte) (Kind, json.RawMessage, error) {
	if len(frame) < headerSize {
		return "", nil, newDecodeError(io.ErrUnexpectedEOF)
	}
	length := binary.BigEndian.Uint32(frame[0:4])
	flags := frame[4]
	if uint32(len(frame)-headerSize) < length {
		return "", nil, newDecodeError(io.ErrUnexpectedEOF)
	}
	return decodeBody(flags, frame[headerSize:headerSize+int(length)])
}

// decodeBody turns a (possibly compressed) body into its kind and payload.
func decodeBody(flags byte, body []byte) (Kind, json.RawMessage, error) {
	if flags&flagCompressed != 0 {
		decompressed, err := decompress(body)
		if err != nil {
			return "", nil, newDecodeError(err)
		}
		body = decompressed
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, newDecodeError(err)
	}
	return env.Kind, env.Payload, nil
}
