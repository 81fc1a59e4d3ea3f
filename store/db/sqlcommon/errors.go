package sqlcommon

import (
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"
)

// TransientNetwork reports connection-level failures that are worth retrying
// on any SQL backend.
func TransientNetwork(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
