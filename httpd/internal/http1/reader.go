package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Limits bounds what the parser will accept from a peer. Zero fields get
// the defaults below.
type Limits struct {
	MaxLineBytes   int   // one start-line, header line, chunk-size line or trailer line
	MaxHeaderBytes int   // whole header (or trailer) block including separators
	MaxHeaderCount int   // number of header (or trailer) fields
	MaxBodyBytes   int64 // declared Content-Length or accumulated chunked size
	MaxChunkBytes  int64 // a single chunk; 0 means MaxBodyBytes
}

const (
	defaultMaxLineBytes   = 8 << 10
	defaultMaxHeaderBytes = 64 << 10
	defaultMaxHeaderCount = 128
	defaultMaxBodyBytes   = 1 << 20
)

func (l Limits) withDefaults() Limits {
	if l.MaxLineBytes <= 0 {
		l.MaxLineBytes = defaultMaxLineBytes
	}
	if l.MaxHeaderBytes <= 0 {
		l.MaxHeaderBytes = defaultMaxHeaderBytes
	}
	if l.MaxHeaderCount <= 0 {
		l.MaxHeaderCount = defaultMaxHeaderCount
	}
	if l.MaxBodyBytes <= 0 {
		l.MaxBodyBytes = defaultMaxBodyBytes
	}
	if l.MaxChunkBytes <= 0 {
		l.MaxChunkBytes = l.MaxBodyBytes
	}
	return l
}

// ParsedRequest is one request parsed from the wire, head fully read,
// body still on the stream behind Body.
type ParsedRequest struct {
	Method        string
	RequestTarget string
	Proto         string // "HTTP/1.0" or "HTTP/1.1"
	Header        map[string][]string
	Framing       Framing
	Body          io.ReadCloser
}

// Reader parses HTTP/1.x requests from a buffered stream.
//
// Line discipline is strict CRLF throughout: a bare LF, a CR not followed
// by LF, and obsolete line folding are all parse errors. The policy is
// uniform across start-line, headers, chunk framing and trailers.
type Reader struct {
	BR     *bufio.Reader
	Limits Limits

	offset int64 // bytes consumed of the current message head
}

// ReadRequest reads one complete request head and decides the body
// framing. It blocks until the blank line ending the header block has
// been read or a bound is exceeded. On error no partial request is
// returned.
func (r *Reader) ReadRequest() (*ParsedRequest, error) {
	lim := r.Limits.withDefaults()
	r.offset = 0

	line, err := r.readLine(lim.MaxLineBytes)
	if err != nil {
		return nil, err
	}
	method, target, proto, perr := r.parseStartLine(line)
	if perr != nil {
		return nil, perr
	}

	hdr, err := r.readFieldBlock(lim)
	if err != nil {
		return nil, err
	}
	if err := r.checkHost(proto, hdr); err != nil {
		return nil, err
	}

	fr, err := r.decideFraming(hdr, lim)
	if err != nil {
		return nil, err
	}

	var body io.ReadCloser
	switch fr.Kind {
	case FramingChunked:
		body = newChunkedBody(r.BR, lim)
	case FramingContentLength:
		if fr.Length > 0 {
			body = &lengthBody{br: r.BR, remain: fr.Length}
		} else {
			body = emptyBody{}
		}
	default:
		body = emptyBody{}
	}
	return &ParsedRequest{
		Method:        method,
		RequestTarget: target,
		Proto:         proto,
		Header:        hdr,
		Framing:       fr,
		Body:          body,
	}, nil
}

func (r *Reader) parseStartLine(line string) (method, target, proto string, err *ParseError) {
	fail := func(msg string) (string, string, string, *ParseError) {
		return "", "", "", &ParseError{Rule: "start-line", Offset: r.offset, Msg: msg}
	}
	i := strings.IndexByte(line, ' ')
	if i <= 0 {
		return fail("missing method")
	}
	j := strings.IndexByte(line[i+1:], ' ')
	if j <= 0 {
		return fail("missing request-target")
	}
	method, target, proto = line[:i], line[i+1:i+1+j], line[i+2+j:]
	if strings.IndexByte(proto, ' ') >= 0 {
		// More than two spaces: not a tolerant parse, an error.
		return fail("extra token in start-line")
	}
	if !validToken(method) {
		return fail("method is not a token")
	}
	if !validRequestTarget(method, target) {
		return fail("malformed request-target")
	}
	if proto != "HTTP/1.1" && proto != "HTTP/1.0" {
		return fail("unsupported protocol version")
	}
	return method, target, proto, nil
}

// readFieldBlock reads header fields until the empty line, enforcing the
// per-line, per-block and field-count bounds. Field order within one name
// is preserved.
func (r *Reader) readFieldBlock(lim Limits) (map[string][]string, error) {
	h := make(map[string][]string)
	var total, count int
	for {
		line, err := r.readLine(lim.MaxLineBytes)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return h, nil
		}
		total += len(line) + 2
		if total > lim.MaxHeaderBytes {
			return nil, &ParseError{Rule: "header-block", Offset: r.offset, Msg: "header block too large", Err: ErrHeaderTooLarge}
		}
		count++
		if count > lim.MaxHeaderCount {
			return nil, &ParseError{Rule: "header-block", Offset: r.offset, Msg: "too many header fields", Err: ErrHeaderTooLarge}
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Obsolete line folding, forbidden by RFC 9112.
			return nil, &ParseError{Rule: "header-line", Offset: r.offset, Msg: "obsolete line folding"}
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, &ParseError{Rule: "header-line", Offset: r.offset, Msg: "missing colon"}
		}
		name := line[:i]
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, &ParseError{Rule: "header-line", Offset: r.offset, Msg: "invalid field name"}
		}
		value := trimOWS(line[i+1:])
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, &ParseError{Rule: "header-line", Offset: r.offset, Msg: "invalid field value"}
		}
		addField(h, name, value)
	}
}

func (r *Reader) checkHost(proto string, h map[string][]string) error {
	hosts := h[canonicalFieldKey("Host")]
	if len(hosts) > 1 {
		// Host is not a list field; a duplicate is rejected, never picked from.
		return &ParseError{Rule: "host", Offset: r.offset, Msg: "duplicate Host field"}
	}
	if proto == "HTTP/1.1" && len(hosts) == 0 {
		return &ParseError{Rule: "host", Offset: r.offset, Msg: "missing Host field"}
	}
	return nil
}

// decideFraming applies the RFC 9112 body-length rules to the header
// block. CL together with TE is always rejected.
func (r *Reader) decideFraming(h map[string][]string, lim Limits) (Framing, error) {
	te := h[canonicalFieldKey("Transfer-Encoding")]
	cl := h[canonicalFieldKey("Content-Length")]
	if len(te) > 0 && len(cl) > 0 {
		return Framing{}, &ParseError{Rule: "framing", Offset: r.offset, Msg: "Content-Length with Transfer-Encoding", Err: ErrFramingAmbiguity}
	}
	if len(te) > 0 {
		if len(te) != 1 || !strings.EqualFold(trimOWS(te[0]), "chunked") {
			// The only acceptable coding is a single final "chunked".
			return Framing{}, &ParseError{Rule: "transfer-encoding", Offset: r.offset, Msg: "transfer coding is not exactly chunked"}
		}
		return Framing{Kind: FramingChunked}, nil
	}
	if len(cl) > 0 {
		for _, v := range cl[1:] {
			if v != cl[0] {
				return Framing{}, &ParseError{Rule: "content-length", Offset: r.offset, Msg: "conflicting Content-Length values"}
			}
		}
		n, ok := parseDecimal(trimOWS(cl[0]))
		if !ok {
			return Framing{}, &ParseError{Rule: "content-length", Offset: r.offset, Msg: "malformed Content-Length"}
		}
		if n > lim.MaxBodyBytes {
			return Framing{}, &ParseError{Rule: "content-length", Offset: r.offset, Msg: "declared body too large", Err: ErrBodyTooLarge}
		}
		return Framing{Kind: FramingContentLength, Length: n}, nil
	}
	return Framing{Kind: FramingNone}, nil
}

// readLine reads one CRLF-terminated line, excluding the terminator.
func (r *Reader) readLine(maxLine int) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.BR.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() == 0 && r.offset == 0 {
				return "", io.EOF // clean close between messages
			}
			return "", &ParseError{Rule: "line", Offset: r.offset, Msg: "unexpected end of stream", Err: err}
		}
		r.offset++
		switch b {
		case '\n':
			return "", &ParseError{Rule: "line", Offset: r.offset, Msg: "bare LF"}
		case '\r':
			nb, err := r.BR.ReadByte()
			if err != nil || nb != '\n' {
				return "", &ParseError{Rule: "line", Offset: r.offset, Msg: "CR without LF", Err: err}
			}
			r.offset++
			return sb.String(), nil
		}
		sb.WriteByte(b)
		if sb.Len() > maxLine {
			return "", &ParseError{Rule: "line", Offset: r.offset, Msg: "line too long", Err: ErrHeaderTooLarge}
		}
	}
}

type emptyBody struct{}

func (emptyBody) Read([]byte) (int, error) { return 0, io.EOF }
func (emptyBody) Close() error             { return nil }

// lengthBody reads exactly remain bytes off the stream. A peer close
// before that is a truncation error, not EOF.
type lengthBody struct {
	br     *bufio.Reader
	remain int64
}

func (b *lengthBody) Read(p []byte) (int, error) {
	if b.remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remain {
		p = p[:b.remain]
	}
	n, err := b.br.Read(p)
	b.remain -= int64(n)
	if err == io.EOF && b.remain > 0 {
		return n, ErrTruncatedBody
	}
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Close drains the unread remainder so the next message on the
// connection starts at a known position. A truncated body surfaces
// here; the caller must then give up on the connection.
func (b *lengthBody) Close() error {
	if b.remain <= 0 {
		return nil
	}
	buf := make([]byte, 1024)
	for b.remain > 0 {
		if _, err := b.Read(buf); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

func addField(h map[string][]string, name, value string) {
	k := canonicalFieldKey(name)
	h[k] = append(h[k], value)
}

func canonicalFieldKey(s string) string {
	b := []byte(s)
	upper := true
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			if !upper {
				b[i] = c - 'A' + 'a'
			}
			upper = false
			continue
		}
		if c >= 'a' && c <= 'z' {
			if upper {
				b[i] = c - 'a' + 'A'
			}
			upper = false
			continue
		}
		upper = c == '-'
	}
	return string(b)
}

func trimOWS(s string) string {
	return strings.Trim(s, " \t")
}

// parseDecimal accepts only unsigned base-10 digits, no sign, no
// whitespace. strconv.ParseInt is too tolerant for wire values.
func parseDecimal(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !httpguts.IsTokenRune(rune(s[i])) {
			return false
		}
	}
	return true
}

// validRequestTarget accepts the four RFC 9112 forms: origin, absolute,
// authority (CONNECT only) and asterisk (OPTIONS only).
func validRequestTarget(method, target string) bool {
	if target == "" {
		return false
	}
	for i := 0; i < len(target); i++ {
		c := target[i]
		if c <= ' ' || c == 0x7f {
			return false
		}
	}
	switch {
	case target == "*":
		return method == "OPTIONS"
	case target[0] == '/':
		return true
	case strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://"):
		return true
	case method == "CONNECT":
		return strings.IndexByte(target, '/') < 0
	}
	return false
}
