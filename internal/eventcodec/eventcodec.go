// Package eventcodec encodes and decodes the binary inotify event record,
// bit-exact with the Linux kernel's struct inotify_event ABI, the way the
// teacher's wire types in internal/protocol encode fixed binary headers
// before a variable-length trailer.
package eventcodec

import (
	"encoding/binary"
	"errors"
)

// EventMask mirrors the kernel's inotify mask bits exactly; numeric values
// are part of the wire contract and must never be renumbered.
type EventMask uint32

const (
	InAccess       EventMask = 0x1
	InModify       EventMask = 0x2
	InAttrib       EventMask = 0x4
	InCloseWrite   EventMask = 0x8
	InCloseNowrite EventMask = 0x10
	InOpen         EventMask = 0x20
	InMovedFrom    EventMask = 0x40
	InMovedTo      EventMask = 0x80
	InCreate       EventMask = 0x100
	InDelete       EventMask = 0x200
	InDeleteSelf   EventMask = 0x400
	InMoveSelf     EventMask = 0x800
	InUnmount      EventMask = 0x2000
	InQOverflow    EventMask = 0x4000
	InIgnored      EventMask = 0x8000
	InOnlydir      EventMask = 0x01000000
	InDontFollow   EventMask = 0x02000000
	InMaskAdd      EventMask = 0x20000000
	InIsdir        EventMask = 0x40000000
	InOneshot      EventMask = 0x80000000

	InClose EventMask = InCloseWrite | InCloseNowrite
	InMove  EventMask = InMovedFrom | InMovedTo

	InAllEvents EventMask = InAccess | InModify | InAttrib | InCloseWrite |
		InCloseNowrite | InOpen | InMovedFrom | InMovedTo | InCreate |
		InDelete | InDeleteSelf | InMoveSelf
)

// headerSize is the fixed 16-byte inotify_event header: wd, mask, cookie, len.
const headerSize = 16

// ErrShortBuffer is returned when Decode is given fewer than 16 bytes.
var ErrShortBuffer = errors.New("eventcodec: buffer shorter than inotify header")

// ErrTruncatedName is returned when the header advertises more name bytes
// than the buffer actually carries.
var ErrTruncatedName = errors.New("eventcodec: buffer truncated before advertised name length")

// Record is the decoded form of a kernel-compatible inotify event.
type Record struct {
	Wd     int32
	Mask   EventMask
	Cookie uint32
	Name   string // empty when the event carries no name
}

// EventSize returns the total encoded size in bytes for a name of nameLen
// user-visible bytes (0 for a name-less event): 16 header bytes plus the
// NUL-terminated, 4-byte-padded trailer, or just 16 when nameLen == 0.
func EventSize(nameLen int) int {
	if nameLen == 0 {
		return headerSize
	}
	return headerSize + ((nameLen + 1 + 3) &^ 3)
}

// Encode renders a record into the kernel's native-byte-order wire format.
func Encode(wd int32, mask EventMask, cookie uint32, name string) []byte {
	var trailer int
	if name != "" {
		trailer = (len(name) + 1 + 3) &^ 3
	}
	buf := make([]byte, headerSize+trailer)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(wd))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(mask))
	binary.NativeEndian.PutUint32(buf[8:12], cookie)
	binary.NativeEndian.PutUint32(buf[12:16], uint32(trailer))
	if trailer > 0 {
		copy(buf[headerSize:], name)
		// buf is zero-initialized already; NUL + padding bytes are left as 0.
	}
	return buf
}

// Decode parses a kernel-compatible inotify event from buf, returning the
// record and the number of bytes consumed.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < headerSize {
		return Record{}, 0, ErrShortBuffer
	}
	wd := int32(binary.NativeEndian.Uint32(buf[0:4]))
	mask := EventMask(binary.NativeEndian.Uint32(buf[4:8]))
	cookie := binary.NativeEndian.Uint32(buf[8:12])
	nameLen := binary.NativeEndian.Uint32(buf[12:16])
	total := headerSize + int(nameLen)
	if len(buf) < total {
		return Record{}, 0, ErrTruncatedName
	}
	var name string
	if nameLen > 0 {
		raw := buf[headerSize:total]
		if i := indexByte(raw, 0); i >= 0 {
			name = string(raw[:i])
		} else {
			name = string(raw)
		}
	}
	return Record{Wd: wd, Mask: mask, Cookie: cookie, Name: name}, total, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
