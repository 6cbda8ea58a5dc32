// Package wire implements the framing and the messages of the peer to peer
// protocol. Every frame is a 4 byte big endian length, a 1 byte message type
// and the snappy compressed JSON encoding of the message.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// MaxFrameSize is the largest frame a peer may send.
const MaxFrameSize = 8 << 20

// ErrMalformed is returned when a frame can't be decoded into a message.
var ErrMalformed = errors.New("malformed frame")

// Write encodes the message as a single frame.
func Write(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type(), err)
	}

	payload := snappy.Encode(nil, data)
	if len(payload)+1 > MaxFrameSize {
		return fmt.Errorf("encoding %s: frame of %d bytes exceeds %d", msg.Type(), len(payload)+1, MaxFrameSize)
	}

	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)+1))
	frame[4] = byte(msg.Type())
	copy(frame[5:], payload)

	if _, err := w.Write(frame); err != nil {
		return err
	}

	return nil
}

// Read decodes the next frame into a message. Errors of the reader are
// returned as is, every problem with the frame itself wraps ErrMalformed.
func Read(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(hdr[:])
	if size < 1 || size > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d", ErrMalformed, size)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	msg, err := newMessage(Type(frame[0]))
	if err != nil {
		return nil, err
	}

	data, err := snappy.Decode(nil, frame[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformed, msg.Type(), err)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformed, msg.Type(), err)
	}

	return msg, nil
}
