package http1

import (
	"errors"
	"fmt"
)

var (
	// ErrFramingAmbiguity reports a message carrying both Content-Length
	// and Transfer-Encoding. Never resolved by preference; the connection
	// is no longer trustworthy.
	ErrFramingAmbiguity = errors.New("http1: conflicting Content-Length and Transfer-Encoding")
	// ErrHeaderTooLarge reports a start-line or header block exceeding a
	// configured bound.
	ErrHeaderTooLarge = errors.New("http1: header section too large")
	// ErrBodyTooLarge reports a declared or accumulated body size over the
	// configured bound.
	ErrBodyTooLarge = errors.New("http1: body too large")
	// ErrTruncatedBody reports a peer close before Content-Length bytes
	// arrived.
	ErrTruncatedBody = errors.New("http1: body truncated")
)

// ParseError describes a wire-level framing failure: which rule was
// violated and, when known, the byte offset into the message head where
// it happened.
type ParseError struct {
	Rule   string // e.g. "start-line", "header-line", "transfer-encoding"
	Offset int64  // bytes consumed from the start of the message, -1 if unknown
	Msg    string
	Err    error // optional sentinel, e.g. ErrFramingAmbiguity
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("http1: %s at +%d: %s", e.Rule, e.Offset, e.Msg)
	}
	return fmt.Sprintf("http1: %s: %s", e.Rule, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }
