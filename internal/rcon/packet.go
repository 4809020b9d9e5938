package rcon

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Packet types. ExecCommand and AuthResponse share a value; direction tells them apart.
const (
	TypeResponseValue int32 = 0
	TypeExecCommand   int32 = 2
	TypeAuthResponse  int32 = 2
	TypeAuth          int32 = 3
)

const (
	lengthSize  = 4
	headerSize  = 8 // request id + type
	paddingSize = 2

	minPacketLength = headerSize + paddingSize

	// MaxCommandSize is the largest body a server accepts from a client
	MaxCommandSize = 1446
	// maxPacketLength bounds what we will allocate for an incoming frame.
	// Vanilla servers cap response bodies at 4096; some forks go higher.
	maxPacketLength = 1 << 16
)

// Packet is one RCON frame
type Packet struct {
	ID   int32
	Type int32
	Body []byte
}

// Encode returns the wire representation of p:
// [length][id][type][body][0x00 0x00], little-endian, length excluding itself
func (p Packet) Encode() []byte {
	length := headerSize + len(p.Body) + paddingSize
	buf := make([]byte, lengthSize+length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Type))
	copy(buf[12:], p.Body)
	// trailing two bytes are already zero
	return buf
}

// WritePacket writes a single frame to w
func WritePacket(w io.Writer, p Packet) error {
	if _, err := w.Write(p.Encode()); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	return nil
}

// ReadPacket reads a single frame from r.
// I/O failures are returned wrapped; malformed frames wrap ErrProtocol.
func ReadPacket(r io.Reader) (Packet, error) {
	var lengthBytes [lengthSize]byte
	if _, err := io.ReadFull(r, lengthBytes[:]); err != nil {
		return Packet{}, fmt.Errorf("reading packet length: %w", err)
	}

	length := int32(binary.LittleEndian.Uint32(lengthBytes[:]))
	if length < minPacketLength || length > maxPacketLength {
		return Packet{}, fmt.Errorf("%w: invalid packet length %d", ErrProtocol, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Packet{}, fmt.Errorf("reading packet payload: %w", err)
	}

	if payload[length-2] != 0 || payload[length-1] != 0 {
		return Packet{}, fmt.Errorf("%w: incorrect padding", ErrProtocol)
	}

	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(payload[0:4])),
		Type: int32(binary.LittleEndian.Uint32(payload[4:8])),
		Body: payload[headerSize : length-paddingSize],
	}, nil
}
