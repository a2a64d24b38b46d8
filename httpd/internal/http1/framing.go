package http1

import "fmt"

// FramingKind says how a message body is delimited on the wire.
type FramingKind int

const (
	// FramingNone means the message has no body.
	FramingNone FramingKind = iota
	// FramingContentLength means the body is exactly Length bytes.
	FramingContentLength
	// FramingChunked means the body is a chunked sequence ended by a
	// zero-size chunk.
	FramingChunked
)

func (k FramingKind) String() string {
	switch k {
	case FramingNone:
		return "none"
	case FramingContentLength:
		return "content-length"
	case FramingChunked:
		return "chunked"
	default:
		return fmt.Sprintf("framing(%d)", int(k))
	}
}

// Framing is the body-delimiting decision for one message. Length is
// meaningful only for FramingContentLength.
type Framing struct {
	Kind   FramingKind
	Length int64
}

// KnownLength reports whether the body length is known up front.
func (f Framing) KnownLength() bool {
	return f.Kind == FramingNone || f.Kind == FramingContentLength
}

// BodyLength returns the declared length, or -1 when unknown (chunked).
func (f Framing) BodyLength() int64 {
	switch f.Kind {
	case FramingNone:
		return 0
	case FramingContentLength:
		return f.Length
	default:
		return -1
	}
}
