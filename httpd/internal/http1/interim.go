package http1

import "bufio"

// WriteContinue writes the 100 Continue interim response sent when a
// request carries Expect: 100-continue.
func WriteContinue(bw *bufio.Writer) error {
	_, err := bw.WriteString("HTTP/1.1 100 Continue\r\n\r\n")
	return err
}
