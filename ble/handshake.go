package ble

import (
	"encoding/binary"
	"fmt"

	"github.com/MrElectrify/BlacklightFramework/aesgcm"
	"github.com/MrElectrify/BlacklightFramework/random"
	"github.com/MrElectrify/BlacklightFramework/rsacrypto"
)

// state is the handshake/connection state gating the public facade, per the
// IDLE/IN_PROGRESS/COMPLETE/FAILED lifecycle.
type state int32

const (
	stateIdle state = iota
	stateInProgress
	stateComplete
	stateFailed
)

func (st state) String() string {
	switch st {
	case stateIdle:
		return "idle"
	case stateInProgress:
		return "in_progress"
	case stateComplete:
		return "complete"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// runClientHandshake drives the three client-side stages sequentially over
// s.tcp, entering IN_PROGRESS before the first byte goes on the wire and
// leaving it atomically with the transition to COMPLETE or FAILED.
//
// This replaces the original's web of AsyncCS1/AsyncCS1W/... continuations
// with a plain function: each stage is a few lines of read/write/validate,
// which is what step(state, incoming) -> (next, action) amounts to once the
// "action" is always "read N bytes" or "write these bytes" and there's a
// single goroutine free to block on it.
func (s *Socket) runClientHandshake() error {
	s.setState(stateInProgress)

	greeting := make([]byte, stage1GreetingSize)
	binary.LittleEndian.PutUint32(greeting[0:4], magic1)
	binary.LittleEndian.PutUint32(greeting[4:8], magic2)
	copy(greeting[8:11], "enc")
	if _, err := s.tcp.Write(greeting); err != nil {
		return s.failHandshake("stage1-send", err)
	}

	reply := make([]byte, 8+2*rsacrypto.OctetCount)
	if _, err := s.tcp.Read(reply); err != nil {
		return s.failHandshake("stage1-recv", err)
	}
	if binary.LittleEndian.Uint32(reply[0:4]) != magic1 || binary.LittleEndian.Uint32(reply[4:8]) != magic2 {
		return s.failHandshake("stage1-recv", ErrBadMessage)
	}
	eBytes := reply[8 : 8+rsacrypto.OctetCount]
	nBytes := reply[8+rsacrypto.OctetCount:]
	peerPub := rsacrypto.DecodePublicKey(eBytes, nBytes)

	if pinned, ok := s.ctx.PinnedKey(); ok {
		if !peerPub.Equal(pinned) {
			return s.failHandshake("stage2-pin", ErrKeyPinMismatch)
		}
	}

	aesKey, err := aesgcm.GenerateKey()
	if err != nil {
		return s.failHandshake("stage2-keygen", err)
	}

	plain := make([]byte, 40)
	binary.LittleEndian.PutUint32(plain[0:4], magic1)
	binary.LittleEndian.PutUint32(plain[4:8], magic2)
	copy(plain[8:], aesKey)

	block, err := rsacrypto.Encrypt(peerPub, plain)
	if err != nil {
		return s.failHandshake("stage2-encrypt", err)
	}
	if _, err := s.tcp.Write(block); err != nil {
		return s.failHandshake("stage2-send", err)
	}

	engine, err := aesgcm.NewEngine(aesKey)
	if err != nil {
		return s.failHandshake("stage2-engine", err)
	}
	s.engine = engine

	confirm := make([]byte, stage3RecordSize)
	if _, err := s.tcp.Read(confirm); err != nil {
		return s.failHandshake("stage3-recv", err)
	}
	pt, err := engine.Decrypt(confirm)
	if err != nil {
		return s.failHandshake("stage3-decrypt", err)
	}
	if err := validateStage3Payload(pt); err != nil {
		return s.failHandshake("stage3-validate", err)
	}

	ownPayload, err := buildStage3Payload()
	if err != nil {
		return s.failHandshake("stage3-build", err)
	}
	record, err := engine.Encrypt(ownPayload)
	if err != nil {
		return s.failHandshake("stage3-encrypt", err)
	}
	if _, err := s.tcp.Write(record); err != nil {
		return s.failHandshake("stage3-send", err)
	}

	s.setState(stateComplete)
	return nil
}

// runServerHandshake drives the three server-side stages, including the
// lazily-generated keypair on first use (serialized across sockets sharing
// a Context by Context.EnsureKeyPair) and the corrected 52-byte stage-3
// confirmation read.
func (s *Socket) runServerHandshake() error {
	s.setState(stateInProgress)

	greeting := make([]byte, stage1GreetingSize)
	if _, err := s.tcp.Read(greeting); err != nil {
		return s.failHandshake("stage1-recv", err)
	}
	if binary.LittleEndian.Uint32(greeting[0:4]) != magic1 || binary.LittleEndian.Uint32(greeting[4:8]) != magic2 {
		return s.failHandshake("stage1-recv", ErrBadMessage)
	}
	if string(greeting[8:11]) != "enc" {
		return s.failHandshake("stage1-recv", ErrBadMessage)
	}

	priv, err := s.ctx.EnsureKeyPair()
	if err != nil {
		return s.failHandshake("stage1-keygen", err)
	}
	eBytes, nBytes := priv.Public().Encode()

	reply := make([]byte, 8+2*rsacrypto.OctetCount)
	binary.LittleEndian.PutUint32(reply[0:4], magic1)
	binary.LittleEndian.PutUint32(reply[4:8], magic2)
	copy(reply[8:8+rsacrypto.OctetCount], eBytes)
	copy(reply[8+rsacrypto.OctetCount:], nBytes)
	if _, err := s.tcp.Write(reply); err != nil {
		return s.failHandshake("stage1-send", err)
	}

	block := make([]byte, rsacrypto.OctetCount)
	if _, err := s.tcp.Read(block); err != nil {
		return s.failHandshake("stage2-recv", err)
	}
	plain, err := rsacrypto.Decrypt(priv, block)
	if err != nil {
		return s.failHandshake("stage2-decrypt", err)
	}
	if len(plain) != 40 {
		return s.failHandshake("stage2-decrypt", ErrBadMessage)
	}
	if binary.LittleEndian.Uint32(plain[0:4]) != magic1 || binary.LittleEndian.Uint32(plain[4:8]) != magic2 {
		return s.failHandshake("stage2-decrypt", ErrBadMessage)
	}
	aesKey := plain[8:40]

	engine, err := aesgcm.NewEngine(aesKey)
	if err != nil {
		return s.failHandshake("stage2-engine", err)
	}
	s.engine = engine

	payload, err := buildStage3Payload()
	if err != nil {
		return s.failHandshake("stage3-build", err)
	}
	record, err := engine.Encrypt(payload)
	if err != nil {
		return s.failHandshake("stage3-encrypt", err)
	}
	if _, err := s.tcp.Write(record); err != nil {
		return s.failHandshake("stage3-send", err)
	}

	confirm := make([]byte, stage3RecordSize)
	if _, err := s.tcp.Read(confirm); err != nil {
		return s.failHandshake("stage3-recv", err)
	}
	pt, err := engine.Decrypt(confirm)
	if err != nil {
		return s.failHandshake("stage3-decrypt", err)
	}
	if err := validateStage3Payload(pt); err != nil {
		return s.failHandshake("stage3-validate", err)
	}

	s.setState(stateComplete)
	return nil
}

// asyncRunClientHandshake is the async counterpart of runClientHandshake:
// the same three stages, but each read/write is issued against s.tcp's
// async API and the next stage resumes from its callback instead of the
// next line of a blocking function. This is the Go analogue of the
// original's AsyncCS1 -> AsyncCS1W -> AsyncCS2 -> ... continuation chain.
func (s *Socket) asyncRunClientHandshake(callback func(error)) {
	s.setState(stateInProgress)

	greeting := make([]byte, stage1GreetingSize)
	binary.LittleEndian.PutUint32(greeting[0:4], magic1)
	binary.LittleEndian.PutUint32(greeting[4:8], magic2)
	copy(greeting[8:11], "enc")

	s.tcp.AsyncWrite(greeting, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage1-send", err))
			return
		}
		s.asyncClientStage1Recv(callback)
	})
}

func (s *Socket) asyncClientStage1Recv(callback func(error)) {
	reply := make([]byte, 8+2*rsacrypto.OctetCount)
	s.tcp.AsyncRead(reply, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage1-recv", err))
			return
		}
		if binary.LittleEndian.Uint32(reply[0:4]) != magic1 || binary.LittleEndian.Uint32(reply[4:8]) != magic2 {
			callback(s.failHandshake("stage1-recv", ErrBadMessage))
			return
		}
		eBytes := reply[8 : 8+rsacrypto.OctetCount]
		nBytes := reply[8+rsacrypto.OctetCount:]
		peerPub := rsacrypto.DecodePublicKey(eBytes, nBytes)

		if pinned, ok := s.ctx.PinnedKey(); ok {
			if !peerPub.Equal(pinned) {
				callback(s.failHandshake("stage2-pin", ErrKeyPinMismatch))
				return
			}
		}
		s.asyncClientStage2Send(peerPub, callback)
	})
}

func (s *Socket) asyncClientStage2Send(peerPub *rsacrypto.PublicKey, callback func(error)) {
	aesKey, err := aesgcm.GenerateKey()
	if err != nil {
		callback(s.failHandshake("stage2-keygen", err))
		return
	}

	plain := make([]byte, 40)
	binary.LittleEndian.PutUint32(plain[0:4], magic1)
	binary.LittleEndian.PutUint32(plain[4:8], magic2)
	copy(plain[8:], aesKey)

	block, err := rsacrypto.Encrypt(peerPub, plain)
	if err != nil {
		callback(s.failHandshake("stage2-encrypt", err))
		return
	}

	engine, err := aesgcm.NewEngine(aesKey)
	if err != nil {
		callback(s.failHandshake("stage2-engine", err))
		return
	}

	s.tcp.AsyncWrite(block, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage2-send", err))
			return
		}
		s.engine = engine
		s.asyncClientStage3Recv(callback)
	})
}

func (s *Socket) asyncClientStage3Recv(callback func(error)) {
	confirm := make([]byte, stage3RecordSize)
	s.tcp.AsyncRead(confirm, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage3-recv", err))
			return
		}
		pt, err := s.engine.Decrypt(confirm)
		if err != nil {
			callback(s.failHandshake("stage3-decrypt", err))
			return
		}
		if err := validateStage3Payload(pt); err != nil {
			callback(s.failHandshake("stage3-validate", err))
			return
		}
		s.asyncClientStage3Send(callback)
	})
}

func (s *Socket) asyncClientStage3Send(callback func(error)) {
	payload, err := buildStage3Payload()
	if err != nil {
		callback(s.failHandshake("stage3-build", err))
		return
	}
	record, err := s.engine.Encrypt(payload)
	if err != nil {
		callback(s.failHandshake("stage3-encrypt", err))
		return
	}
	s.tcp.AsyncWrite(record, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage3-send", err))
			return
		}
		s.setState(stateComplete)
		callback(nil)
	})
}

// asyncRunServerHandshake is the async counterpart of runServerHandshake,
// the same AsyncSS1 -> AsyncSS1W -> AsyncSS2 -> ... chain shape as the
// client side.
func (s *Socket) asyncRunServerHandshake(callback func(error)) {
	s.setState(stateInProgress)

	greeting := make([]byte, stage1GreetingSize)
	s.tcp.AsyncRead(greeting, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage1-recv", err))
			return
		}
		if binary.LittleEndian.Uint32(greeting[0:4]) != magic1 || binary.LittleEndian.Uint32(greeting[4:8]) != magic2 {
			callback(s.failHandshake("stage1-recv", ErrBadMessage))
			return
		}
		if string(greeting[8:11]) != "enc" {
			callback(s.failHandshake("stage1-recv", ErrBadMessage))
			return
		}
		s.asyncServerStage1Send(callback)
	})
}

func (s *Socket) asyncServerStage1Send(callback func(error)) {
	priv, err := s.ctx.EnsureKeyPair()
	if err != nil {
		callback(s.failHandshake("stage1-keygen", err))
		return
	}
	eBytes, nBytes := priv.Public().Encode()

	reply := make([]byte, 8+2*rsacrypto.OctetCount)
	binary.LittleEndian.PutUint32(reply[0:4], magic1)
	binary.LittleEndian.PutUint32(reply[4:8], magic2)
	copy(reply[8:8+rsacrypto.OctetCount], eBytes)
	copy(reply[8+rsacrypto.OctetCount:], nBytes)

	s.tcp.AsyncWrite(reply, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage1-send", err))
			return
		}
		s.asyncServerStage2Recv(priv, callback)
	})
}

func (s *Socket) asyncServerStage2Recv(priv *rsacrypto.PrivateKey, callback func(error)) {
	block := make([]byte, rsacrypto.OctetCount)
	s.tcp.AsyncRead(block, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage2-recv", err))
			return
		}
		plain, err := rsacrypto.Decrypt(priv, block)
		if err != nil {
			callback(s.failHandshake("stage2-decrypt", err))
			return
		}
		if len(plain) != 40 {
			callback(s.failHandshake("stage2-decrypt", ErrBadMessage))
			return
		}
		if binary.LittleEndian.Uint32(plain[0:4]) != magic1 || binary.LittleEndian.Uint32(plain[4:8]) != magic2 {
			callback(s.failHandshake("stage2-decrypt", ErrBadMessage))
			return
		}
		aesKey := plain[8:40]

		engine, err := aesgcm.NewEngine(aesKey)
		if err != nil {
			callback(s.failHandshake("stage2-engine", err))
			return
		}
		s.engine = engine
		s.asyncServerStage3Send(callback)
	})
}

func (s *Socket) asyncServerStage3Send(callback func(error)) {
	payload, err := buildStage3Payload()
	if err != nil {
		callback(s.failHandshake("stage3-build", err))
		return
	}
	record, err := s.engine.Encrypt(payload)
	if err != nil {
		callback(s.failHandshake("stage3-encrypt", err))
		return
	}
	s.tcp.AsyncWrite(record, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage3-send", err))
			return
		}
		s.asyncServerStage3Recv(callback)
	})
}

func (s *Socket) asyncServerStage3Recv(callback func(error)) {
	confirm := make([]byte, stage3RecordSize)
	s.tcp.AsyncRead(confirm, func(n int, err error) {
		if err != nil {
			callback(s.failHandshake("stage3-recv", err))
			return
		}
		pt, err := s.engine.Decrypt(confirm)
		if err != nil {
			callback(s.failHandshake("stage3-decrypt", err))
			return
		}
		if err := validateStage3Payload(pt); err != nil {
			callback(s.failHandshake("stage3-validate", err))
			return
		}
		s.setState(stateComplete)
		callback(nil)
	})
}

func buildStage3Payload() ([]byte, error) {
	nonce, err := random.StrongBytes(16)
	if err != nil {
		return nil, fmt.Errorf("ble: drawing stage-3 nonce: %w", err)
	}
	payload := make([]byte, stage3PayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], magic1)
	binary.LittleEndian.PutUint32(payload[4:8], magic2)
	copy(payload[8:], nonce)
	return payload, nil
}

func validateStage3Payload(pt []byte) error {
	if len(pt) != stage3PayloadSize {
		return ErrBadMessage
	}
	if binary.LittleEndian.Uint32(pt[0:4]) != magic1 || binary.LittleEndian.Uint32(pt[4:8]) != magic2 {
		return ErrBadMessage
	}
	return nil
}

func (s *Socket) failHandshake(stage string, err error) error {
	s.setState(stateFailed)
	return &HandshakeError{Stage: stage, Err: err}
}
