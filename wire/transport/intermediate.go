package transport

import "encoding/binary"

// Intermediate implements the "intermediate" transport variant: frames are
// [length:u32_le][payload], with no CRC and no sequence number. It trades
// the full variant's corruption detection for eight fewer bytes per frame.
type Intermediate struct{}

// NewIntermediate returns an Intermediate transport.
func NewIntermediate() *Intermediate { return &Intermediate{} }

func (i *Intermediate) Pack(dst []byte, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, 4+len(payload))...)
	binary.LittleEndian.PutUint32(dst[start:], uint32(len(payload)))
	copy(dst[start+4:], payload)
	return dst
}

func (i *Intermediate) Unpack(buf []byte) (int, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, errMissing(4 - len(buf))
	}
	first := int32(binary.LittleEndian.Uint32(buf[:4]))
	if first < 0 {
		return 0, nil, errBadStatus(first)
	}
	payloadLen := int(first)
	total := 4 + payloadLen
	if len(buf) < total {
		return 0, nil, errMissing(total - len(buf))
	}
	return total, buf[4:total], nil
}
