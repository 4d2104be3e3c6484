// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// SignalKind discriminates the signaling records exchanged on a session's
// dedicated bidirectional stream.
type SignalKind uint8

const (
	SignalCandidateOffer SignalKind = iota + 1
	SignalCandidateAnswer
	SignalStartPunching
	SignalPunchingResult
	SignalError
)

// CandidateOffer is Agent -> Server -> chosen Connector.
type CandidateOffer struct {
	SessionID  [16]byte    `cbor:"1,keyasint"`
	ServiceID  string      `cbor:"2,keyasint"`
	Candidates []Candidate `cbor:"3,keyasint"`
}

// CandidateAnswer is Connector -> Server -> Agent.
type CandidateAnswer struct {
	SessionID  [16]byte    `cbor:"1,keyasint"`
	Candidates []Candidate `cbor:"2,keyasint"`
}

// StartPunching is Server -> both sides, with a relative delay so both
// begin connectivity checks at approximately the same instant.
type StartPunching struct {
	SessionID      [16]byte    `cbor:"1,keyasint"`
	StartDelayMS   uint32      `cbor:"2,keyasint"`
	PeerCandidates []Candidate `cbor:"3,keyasint"`
}

// PunchingResult is a best-effort outcome report used for metrics.
type PunchingResult struct {
	SessionID      [16]byte `cbor:"1,keyasint"`
	Success        bool     `cbor:"2,keyasint"`
	WorkingAddress string   `cbor:"3,keyasint"`
}

// SignalError reports protocol or authorization failures.
type SignalError struct {
	SessionID [16]byte `cbor:"1,keyasint"`
	Code      string   `cbor:"2,keyasint"`
	Message   string   `cbor:"3,keyasint"`
}

// Error codes carried in SignalError.Code.
const (
	ErrCodeNoRoute        = "no_route"
	ErrCodeSessionHijack  = "session_hijack"
	ErrCodeUnknownSession = "unknown_session"
)

// Envelope wraps a signaling record with its kind so the reader knows how
// to decode the payload before dispatching it.
type Envelope struct {
	Kind    SignalKind
	Payload []byte
}

// EncodeEnvelope CBOR-encodes the given record and wraps it with its kind.
func EncodeEnvelope(kind SignalKind, record any) (Envelope, error) {
	payload, err := cbor.Marshal(record)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: marshal signaling record: %w", err)
	}
	return Envelope{Kind: kind, Payload: payload}, nil
}

// WriteFrame writes a length-prefixed (4-byte big-endian) signaling frame:
// [length(4)][kind(1)][cbor payload].
func WriteFrame(w io.Writer, env Envelope) error {
	body := make([]byte, 1+len(env.Payload))
	body[0] = byte(env.Kind)
	copy(body[1:], env.Payload)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed signaling frame.
func ReadFrame(r io.Reader) (Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return Envelope{}, ErrShortFrame
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: SignalKind(body[0]), Payload: body[1:]}, nil
}

// Decode unmarshals the envelope payload into dst (a pointer to one of the
// record types above).
func (e Envelope) Decode(dst any) error {
	if err := cbor.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("wire: unmarshal signaling record: %w", err)
	}
	return nil
}
