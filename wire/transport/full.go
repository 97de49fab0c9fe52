package transport

import (
	"encoding/binary"
	"hash/crc32"
)

// Full implements the "full" transport variant: each frame is
// [length:u32_le][seq:u32_le][payload][crc32:u32_le], where the CRC covers
// the length, seq and payload, and seq increments by one per frame in each
// direction independently.
type Full struct {
	sendSeq uint32
	recvSeq uint32
}

// NewFull returns a Full transport with both sequence counters at zero.
func NewFull() *Full { return &Full{} }

const fullHeaderLen = 8 // length + seq
const fullTrailerLen = 4 // crc32
const fullOverhead = fullHeaderLen + fullTrailerLen

func (f *Full) Pack(dst []byte, payload []byte) []byte {
	frameLen := fullOverhead + len(payload)
	start := len(dst)
	dst = append(dst, make([]byte, frameLen)...)
	binary.LittleEndian.PutUint32(dst[start:], uint32(frameLen))
	binary.LittleEndian.PutUint32(dst[start+4:], f.sendSeq)
	copy(dst[start+fullHeaderLen:], payload)
	crc := crc32.ChecksumIEEE(dst[start : start+fullHeaderLen+len(payload)])
	binary.LittleEndian.PutUint32(dst[start+fullHeaderLen+len(payload):], crc)
	f.sendSeq++
	return dst
}

func (f *Full) Unpack(buf []byte) (int, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, errMissing(4 - len(buf))
	}
	first := int32(binary.LittleEndian.Uint32(buf[:4]))
	if first < 0 {
		return 0, nil, errBadStatus(first)
	}
	frameLen := int(first)
	if frameLen < fullOverhead {
		return 0, nil, errBadStatus(first)
	}
	if len(buf) < frameLen {
		return 0, nil, errMissing(frameLen - len(buf))
	}
	gotCRC := binary.LittleEndian.Uint32(buf[frameLen-4 : frameLen])
	wantCRC := crc32.ChecksumIEEE(buf[:frameLen-4])
	if gotCRC != wantCRC {
		return 0, nil, errBadStatus(-1)
	}
	seq := binary.LittleEndian.Uint32(buf[4:8])
	_ = seq // servers don't require us to enforce monotonicity on receipt
	f.recvSeq++
	payload := buf[fullHeaderLen : frameLen-fullTrailerLen]
	return frameLen, payload, nil
}
