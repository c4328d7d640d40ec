// Package codec frames a (rgb, depth, meta) triple into the single binary
// envelope that crosses queues and the WebSocket bridge. Only the envelope
// layout is in scope here — how the RGB/depth payloads themselves are
// produced (JPEG/PNG encoding) is the caller's responsibility.
package codec

import (
	"encoding/binary"
	"fmt"
)

// PackType identifies which payloads the envelope carries.
type PackType byte

const (
	// PackJPG carries (rgb, meta) — no depth payload.
	PackJPG PackType = 1
	// PackJPGPNG carries (rgb, depth, meta).
	PackJPGPNG PackType = 2
)

const headerLen = 13 // 1 byte pack_type + 3 uint32 length fields

// Frame is the decoded result of Unpack.
type Frame struct {
	PackType PackType
	RGB      []byte
	Depth    []byte // nil when PackType == PackJPG
	Meta     string
}

// Pack encodes rgb, an optional depth payload, and meta into the framed
// envelope described by the wire layout:
//
//	byte 0          : pack_type
//	bytes 1..4      : uint32 length of payload-A (rgb)
//	bytes 5..8      : uint32 length of payload-B (meta for JPG, depth for JPG_PNG)
//	bytes 9..12     : uint32 length of payload-C (JPG_PNG only: meta)
//	then            : payload-A || payload-B [|| payload-C]
//
// The pack type follows from depth: a nil depth is packed as PackJPG, any
// other depth as PackJPGPNG.
func Pack(rgb []byte, depth []byte, meta string) []byte {
	metaBytes := []byte(meta)

	if depth == nil {
		buf := make([]byte, headerLen+len(rgb)+len(metaBytes))
		buf[0] = byte(PackJPG)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(len(rgb)))
		binary.LittleEndian.PutUint32(buf[5:9], uint32(len(metaBytes)))
		binary.LittleEndian.PutUint32(buf[9:13], 0)
		off := headerLen
		off += copy(buf[off:], rgb)
		copy(buf[off:], metaBytes)
		return buf
	}

	buf := make([]byte, headerLen+len(rgb)+len(depth)+len(metaBytes))
	buf[0] = byte(PackJPGPNG)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(rgb)))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(depth)))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(metaBytes)))
	off := headerLen
	off += copy(buf[off:], rgb)
	off += copy(buf[off:], depth)
	copy(buf[off:], metaBytes)
	return buf
}

// Unpack decodes an envelope produced by Pack. It is length-checked: any
// mismatch between the declared and actual payload sizes returns an error
// rather than a partially-decoded Frame.
func Unpack(data []byte) (Frame, error) {
	if len(data) < headerLen {
		return Frame{}, fmt.Errorf("codec: envelope too short: %d bytes", len(data))
	}

	packType := PackType(data[0])
	lenA := binary.LittleEndian.Uint32(data[1:5])
	lenB := binary.LittleEndian.Uint32(data[5:9])
	lenC := binary.LittleEndian.Uint32(data[9:13])

	body := data[headerLen:]

	switch packType {
	case PackJPG:
		want := uint64(lenA) + uint64(lenB)
		if uint64(len(body)) != want {
			return Frame{}, fmt.Errorf("codec: JPG envelope length mismatch: want %d, have %d", want, len(body))
		}
		return Frame{
			PackType: packType,
			RGB:      body[:lenA],
			Depth:    nil,
			Meta:     string(body[lenA : lenA+lenB]),
		}, nil

	case PackJPGPNG:
		want := uint64(lenA) + uint64(lenB) + uint64(lenC)
		if uint64(len(body)) != want {
			return Frame{}, fmt.Errorf("codec: JPG_PNG envelope length mismatch: want %d, have %d", want, len(body))
		}
		return Frame{
			PackType: packType,
			RGB:      body[:lenA],
			Depth:    body[lenA : lenA+lenB],
			Meta:     string(body[lenA+lenB : lenA+lenB+lenC]),
		}, nil

	default:
		return Frame{}, fmt.Errorf("codec: unknown pack_type %d", packType)
	}
}
