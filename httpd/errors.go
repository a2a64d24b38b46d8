package httpd

import (
	"errors"

	"dqx0.com/go/httpserver/httpd/internal/http1"
	"dqx0.com/go/httpserver/internal/privsep"
)

// The engine's error taxonomy. Wire-level failures wrap one of these;
// all are fatal to the connection they occur on, and only ErrPrivilege
// is fatal to the process.
var (
	// ErrBadRequest covers malformed start-lines, header lines and chunk
	// framing.
	ErrBadRequest = errors.New("httpd: bad request")
	// ErrFramingAmbiguity is the Content-Length/Transfer-Encoding
	// conflict. Logged as a security event, never resolved by
	// preference.
	ErrFramingAmbiguity = http1.ErrFramingAmbiguity
	// ErrHeaderTooLarge and ErrBodyTooLarge report exceeded resource
	// bounds; the peer gets a 431 or 413 when response headers have not
	// been sent yet.
	ErrHeaderTooLarge = http1.ErrHeaderTooLarge
	ErrBodyTooLarge   = http1.ErrBodyTooLarge
	// ErrTimeout reports an expired idle, header or write deadline.
	ErrTimeout = errors.New("httpd: timeout")
	// ErrPrivilege reports a bind or privilege-drop failure at startup.
	ErrPrivilege = privsep.ErrPrivilege
	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("httpd: server closed")
)
