package s3fs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Error kinds surfaced by the filesystem. Callers match them with
// errors.Is; every returned error carries the operation and path via
// fmt.Errorf wrapping.
var (
	// ErrNotFound reports that a bucket, key or path does not exist.
	ErrNotFound = errors.New("s3fs: not found")

	// ErrPermissionDenied reports that the store rejected the request
	// with an access-denied condition. It is never folded into an empty
	// listing.
	ErrPermissionDenied = errors.New("s3fs: permission denied")

	// ErrInvalidArgument reports a bad mode string, an ACL outside the
	// canned set, an undersized block size, and similar caller mistakes.
	// It is raised before any network call.
	ErrInvalidArgument = errors.New("s3fs: invalid argument")

	// ErrRetriesExceeded reports a transient transport failure that
	// survived the full retry budget.
	ErrRetriesExceeded = errors.New("s3fs: retries exceeded")

	// ErrClosed reports an operation on a closed file handle.
	ErrClosed = errors.New("s3fs: file closed")
)

// apiCoder is satisfied by smithy.APIError and by the test fake, so error
// classification does not depend on which store implementation produced
// the error.
type apiCoder interface {
	ErrorCode() string
}

func errorCode(err error) string {
	var ae apiCoder
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func isNotFoundErr(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	switch errorCode(err) {
	case "NoSuchKey", "NoSuchBucket", "NotFound", "404":
		return true
	}
	return false
}

func isPermissionErr(err error) bool {
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	switch errorCode(err) {
	case "AccessDenied", "AccountProblem", "AllAccessDisabled", "403":
		return true
	}
	return false
}

// isInvalidRange reports the store's "range not satisfiable" condition,
// which the range fetcher maps to empty bytes rather than an error.
func isInvalidRange(err error) bool {
	switch errorCode(err) {
	case "InvalidRange", "416":
		return true
	}
	return false
}

// isRetryable classifies connection-reset, broken-pipe and timeout-class
// transport errors. Everything else aborts immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET, syscall.EPIPE, syscall.ESHUTDOWN,
		syscall.ECONNABORTED, syscall.ECONNREFUSED,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	switch errorCode(err) {
	case "RequestTimeout", "SlowDown", "InternalError", "503":
		return true
	}
	// The concrete timeout type reported by stores changes often; fall
	// back to the message, as the original retry loop did.
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// translateErr maps store errors onto the taxonomy sentinels, preserving
// the underlying error in the chain.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFoundErr(err):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case isPermissionErr(err):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return err
	}
}

// opError annotates an error with the failed operation and path.
func opError(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w", op, path, err)
}
