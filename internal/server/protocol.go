package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zhukov-alex/flakeid/internal/issuer"
	"github.com/zhukov-alex/flakeid/pkg/flake"
)

// Every frame is a 4 byte little-endian length followed by the payload.
// Request payloads start with an op byte, response payloads with a status
// byte. Error responses carry the error text after the status.
const (
	OpNext      byte = 0x01
	OpBatch     byte = 0x02 // + uint16 count
	OpDecompose byte = 0x03 // + uint64 id

	StatusOK            byte = 0x00
	StatusBadRequest    byte = 0x01
	StatusOverTimeLimit byte = 0x02
	StatusUnavailable   byte = 0x03
)

const (
	MaxRequestSize  = 1 + 8
	MaxResponseSize = 1 + 2 + 8*65535

	decomposeBodySize = 6 * 8
)

// StatusError is an error response received from the server.
type StatusError struct {
	Status  byte
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server status 0x%02x: %s", e.Status, e.Message)
}

func statusFor(err error) byte {
	switch {
	case errors.Is(err, issuer.ErrInvalidBatchSize):
		return StatusBadRequest
	case errors.Is(err, flake.ErrOverTimeLimit):
		return StatusOverTimeLimit
	default:
		return StatusUnavailable
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lengthBuf[:])
	if length == 0 || length > maxSize {
		return nil, fmt.Errorf("invalid frame size %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func errorResponse(status byte, err error) []byte {
	return append([]byte{status}, err.Error()...)
}

func encodeIDs(ids []flake.ID) []byte {
	buf := make([]byte, 1+2+8*len(ids))
	buf[0] = StatusOK
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(ids)))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[3+8*i:], uint64(id))
	}
	return buf
}

func decodeIDs(body []byte) ([]flake.ID, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("short batch response: %d bytes", len(body))
	}
	n := int(binary.LittleEndian.Uint16(body[:2]))
	if len(body) != 2+8*n {
		return nil, fmt.Errorf("batch response of %d ids has %d bytes", n, len(body))
	}
	ids := make([]flake.ID, n)
	for i := range ids {
		ids[i] = flake.ID(binary.LittleEndian.Uint64(body[2+8*i:]))
	}
	return ids, nil
}

func encodeDecomposed(d issuer.Decomposed) []byte {
	buf := make([]byte, 1+decomposeBodySize)
	buf[0] = StatusOK
	for i, v := range []uint64{d.ID, d.MSB, d.Time, d.Sequence, d.MachineID, uint64(d.IssuedAt.UnixNano())} {
		binary.LittleEndian.PutUint64(buf[1+8*i:], v)
	}
	return buf
}

func decodeDecomposed(body []byte) (issuer.Decomposed, error) {
	if len(body) != decomposeBodySize {
		return issuer.Decomposed{}, fmt.Errorf("decompose response has %d bytes", len(body))
	}
	field := func(i int) uint64 { return binary.LittleEndian.Uint64(body[8*i:]) }
	return issuer.Decomposed{
		Parts: flake.Parts{
			ID:        field(0),
			MSB:       field(1),
			Time:      field(2),
			Sequence:  field(3),
			MachineID: field(4),
		},
		IssuedAt: unixNanosTime(int64(field(5))),
	}, nil
}

func unixNanosTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}
