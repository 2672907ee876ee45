package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"os"

	"golang.org/x/crypto/ssh"
)

// FetchError is a structured error from a protocol opener.
// Use errors.As to extract and inspect it.
type FetchError struct {
	// Protocol identifies the protocol that produced the error (e.g., "http", "ftp").
	Protocol string
	// Op is the operation that failed (e.g., "connect", "read").
	Op    string
	Cause error

	transient bool
}

// Format: "protocol op: cause"
func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s", e.Protocol, e.Op, e.Cause.Error())
	}
	return fmt.Sprintf("%s %s", e.Protocol, e.Op)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// IsTransient returns true if the fetch may succeed when retried.
func (e *FetchError) IsTransient() bool {
	return e.transient
}

func NewTransientError(protocol, op string, cause error) *FetchError {
	return &FetchError{Protocol: protocol, Op: op, Cause: cause, transient: true}
}

func NewPermanentError(protocol, op string, cause error) *FetchError {
	return &FetchError{Protocol: protocol, Op: op, Cause: cause}
}

// IsTransient reports whether err carries a transient FetchError.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.IsTransient()
}

var (
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrCRCMismatch       = errors.New("crc mismatch")
	ErrStatus            = errors.New("unexpected status")
)

// classifyStatus maps an HTTP status to a FetchError. Server-side and
// throttling statuses are transient.
func classifyStatus(op string, code int) *FetchError {
	err := fmt.Errorf("%w %d %s", ErrStatus, code, http.StatusText(code))
	switch {
	case code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return NewTransientError("http", op, err)
	default:
		return NewPermanentError("http", op, err)
	}
}

// classifyNetError treats network failures as transient and everything
// else as permanent.
func classifyNetError(proto, op string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(proto, op, err)
	}
	return NewPermanentError(proto, op, err)
}

// classifyFTPError treats 4xx replies and network errors as transient.
func classifyFTPError(op string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 400 && tpErr.Code < 500 {
			return NewTransientError("ftp", op, err)
		}
		return NewPermanentError("ftp", op, err)
	}
	return classifyNetError("ftp", op, err)
}

func classifySFTPError(op string, err error) *FetchError {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return NewPermanentError("sftp", op, err)
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return NewPermanentError("sftp", op, err)
	}
	return classifyNetError("sftp", op, err)
}
