package ble

import (
	"encoding/binary"

	"github.com/MrElectrify/BlacklightFramework/aesgcm"
)

const (
	// magic1 and magic2 are preserved exactly as the original stored them:
	// 32-bit little-endian values with only the low 16 bits meaningful.
	magic1 uint32 = 0x00001173
	magic2 uint32 = 0x00000235

	// headerSize is the fixed MAGIC1‖MAGIC2‖LENGTH prefix on every record.
	headerSize = 16

	// stage1GreetingSize is len(MAGIC1‖MAGIC2‖"enc").
	stage1GreetingSize = 11
	// stage3PayloadSize is len(MAGIC1‖MAGIC2‖RAND16).
	stage3PayloadSize = 24
	// stage3RecordSize is the AES-GCM record size for a stage-3 confirmation:
	// IV + ciphertext(24) + tag, fixing the original's buffer-size bug.
	stage3RecordSize = aesgcm.IVSize + aesgcm.TagSize + stage3PayloadSize
)

// encodeRecord seals plaintext under engine and prepends the magic/length
// header, producing the full on-wire record.
func encodeRecord(engine *aesgcm.Engine, plaintext []byte) ([]byte, error) {
	payload, err := engine.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], magic1)
	binary.LittleEndian.PutUint32(out[4:8], magic2)
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}

// decodeHeader validates a 16-byte record header and returns the payload
// length that follows it.
func decodeHeader(header []byte) (uint64, error) {
	if len(header) != headerSize {
		return 0, ErrBadMessage
	}
	if binary.LittleEndian.Uint32(header[0:4]) != magic1 {
		return 0, ErrBadMessage
	}
	if binary.LittleEndian.Uint32(header[4:8]) != magic2 {
		return 0, ErrBadMessage
	}
	length := binary.LittleEndian.Uint64(header[8:16])
	if length < aesgcm.IVSize+aesgcm.TagSize {
		return 0, ErrBadMessage
	}
	return length, nil
}
