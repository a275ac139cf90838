// Package framing implements the length-prefixed envelope shared by every
// request, response, and fan-out event payload crossing the client-daemon
// socket, modeled on the teacher's own length-prefixed header marshaling in
// internal/protocol (a fixed-size integer field announcing a variable body).
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPayload is the largest payload this framing accepts; a peer
// advertising more must have its connection closed.
const MaxPayload = 1 << 20 // 1 MiB

// lenFieldSize is the 4-byte little-endian length prefix.
const lenFieldSize = 4

// ErrOversizedFrame is returned when a decoded or requested payload would
// exceed MaxPayload.
var ErrOversizedFrame = errors.New("framing: payload exceeds 1 MiB maximum")

// Write sends payload as a single [u32_le len][payload] frame.
func Write(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("framing: write: %w (%d bytes)", ErrOversizedFrame, len(payload))
	}
	var hdr [lenFieldSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("framing: write length prefix: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("framing: write payload: %w", err)
	}
	return nil
}

// Read receives one frame, returning its payload. The caller's connection
// must be closed by the caller if ErrOversizedFrame is returned, per the
// transport error policy (spec §7).
func Read(r io.Reader) ([]byte, error) {
	var hdr [lenFieldSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err // includes io.EOF for a clean peer close
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxPayload {
		return nil, fmt.Errorf("framing: read: %w (%d bytes advertised)", ErrOversizedFrame, n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("framing: read payload: %w", err)
	}
	return payload, nil
}
