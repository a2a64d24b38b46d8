package httpd

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"
)

var idSeq atomic.Uint64

// genID produces a per-exchange identifier: a random prefix plus a
// process-wide sequence number, so concurrent exchanges never collide
// and log lines for one process sort by arrival.
func genID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		binary.BigEndian.PutUint64(b[:], uint64(time.Now().UnixNano()))
	}
	return hex.EncodeToString(b[:]) + "-" + strconv.FormatUint(idSeq.Add(1), 10)
}
