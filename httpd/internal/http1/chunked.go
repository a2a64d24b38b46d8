package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// chunkedBody decodes Transfer-Encoding: chunked with per-chunk and
// cumulative size caps. Trailer fields after the terminal chunk are
// parsed under the same bounds as the header block and discarded; they
// are never merged into the request header set.
type chunkedBody struct {
	br       *bufio.Reader
	lim      Limits
	remain   int64 // unread bytes of the current chunk, -1 before the first
	consumed int64 // decoded body bytes so far
	finished bool
	offset   int64
}

func newChunkedBody(br *bufio.Reader, lim Limits) io.ReadCloser {
	return &chunkedBody{br: br, lim: lim, remain: -1}
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	if c.finished {
		return 0, io.EOF
	}
	if c.remain <= 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := c.discardTrailers(); err != nil {
				return 0, err
			}
			c.finished = true
			return 0, io.EOF
		}
		if size > c.lim.MaxChunkBytes {
			return 0, &ParseError{Rule: "chunk-size", Offset: c.offset, Msg: "chunk exceeds size cap", Err: ErrBodyTooLarge}
		}
		if c.consumed+size > c.lim.MaxBodyBytes {
			return 0, &ParseError{Rule: "chunk-size", Offset: c.offset, Msg: "chunked body exceeds size cap", Err: ErrBodyTooLarge}
		}
		c.remain = size
	}
	if len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := io.ReadFull(c.br, p)
	c.remain -= int64(n)
	c.consumed += int64(n)
	c.offset += int64(n)
	if err != nil {
		return n, &ParseError{Rule: "chunk-data", Offset: c.offset, Msg: "unexpected end of chunk", Err: ErrTruncatedBody}
	}
	if c.remain == 0 {
		if err := c.expectCRLF(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Close drains the body to the terminal chunk so a keep-alive connection
// resynchronizes. A framing error during the drain is reported; the
// caller must then treat the connection as unusable.
func (c *chunkedBody) Close() error {
	buf := make([]byte, 1024)
	for !c.finished {
		if _, err := c.Read(buf); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

func (c *chunkedBody) readChunkSize() (int64, error) {
	line, err := c.readLine()
	if err != nil {
		return 0, err
	}
	// Chunk extensions are stripped, not interpreted.
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = trimOWS(line)
	if line == "" {
		return 0, &ParseError{Rule: "chunk-size", Offset: c.offset, Msg: "empty chunk size"}
	}
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, &ParseError{Rule: "chunk-size", Offset: c.offset, Msg: "malformed chunk size"}
	}
	return n, nil
}

func (c *chunkedBody) discardTrailers() error {
	var total, count int
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		total += len(line) + 2
		count++
		if total > c.lim.MaxHeaderBytes || count > c.lim.MaxHeaderCount {
			return &ParseError{Rule: "trailer", Offset: c.offset, Msg: "trailer block too large", Err: ErrHeaderTooLarge}
		}
	}
}

func (c *chunkedBody) expectCRLF() error {
	b1, err1 := c.br.ReadByte()
	b2, err2 := c.br.ReadByte()
	if err1 != nil || err2 != nil || b1 != '\r' || b2 != '\n' {
		return &ParseError{Rule: "chunk-data", Offset: c.offset, Msg: "missing CRLF after chunk data"}
	}
	c.offset += 2
	return nil
}

// readLine follows the same strict-CRLF discipline as the header parser.
func (c *chunkedBody) readLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return "", &ParseError{Rule: "chunk-line", Offset: c.offset, Msg: "unexpected end of stream", Err: err}
		}
		c.offset++
		switch b {
		case '\n':
			return "", &ParseError{Rule: "chunk-line", Offset: c.offset, Msg: "bare LF"}
		case '\r':
			nb, err := c.br.ReadByte()
			if err != nil || nb != '\n' {
				return "", &ParseError{Rule: "chunk-line", Offset: c.offset, Msg: "CR without LF"}
			}
			c.offset++
			return sb.String(), nil
		}
		sb.WriteByte(b)
		if sb.Len() > c.lim.MaxLineBytes {
			return "", &ParseError{Rule: "chunk-line", Offset: c.offset, Msg: "line too long", Err: ErrHeaderTooLarge}
		}
	}
}
