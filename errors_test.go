package s3fs

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	for _, code := range []string{"NoSuchKey", "NoSuchBucket", "NotFound", "404"} {
		if !isNotFoundErr(&apiErr{code: code}) {
			t.Errorf("%s should classify as not found", code)
		}
	}
	if isNotFoundErr(&apiErr{code: "AccessDenied"}) {
		t.Error("AccessDenied is not a not-found condition")
	}
	wrapped := fmt.Errorf("info bucket/key: %w", &apiErr{code: "NoSuchKey"})
	if !isNotFoundErr(wrapped) {
		t.Error("classification should see through wrapping")
	}
}

func TestIsPermission(t *testing.T) {
	for _, code := range []string{"AccessDenied", "AccountProblem", "AllAccessDisabled", "403"} {
		if !isPermissionErr(&apiErr{code: code}) {
			t.Errorf("%s should classify as permission denied", code)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		&apiErr{code: "SlowDown"},
		&apiErr{code: "RequestTimeout"},
		&apiErr{code: "InternalError"},
		syscall.ECONNRESET,
		syscall.EPIPE,
		fmt.Errorf("dial: %w", syscall.ECONNREFUSED),
		errors.New("request timeout while reading body"),
	}
	for _, err := range retryable {
		if !isRetryable(err) {
			t.Errorf("%v should be retryable", err)
		}
	}
	fatal := []error{
		nil,
		&apiErr{code: "AccessDenied"},
		&apiErr{code: "NoSuchKey"},
		context.Canceled,
		context.DeadlineExceeded,
	}
	for _, err := range fatal {
		if isRetryable(err) {
			t.Errorf("%v should not be retryable", err)
		}
	}
}

func TestTranslateErr(t *testing.T) {
	if !errors.Is(translateErr(&apiErr{code: "NoSuchKey"}), ErrNotFound) {
		t.Error("NoSuchKey should translate to ErrNotFound")
	}
	if !errors.Is(translateErr(&apiErr{code: "AccessDenied"}), ErrPermissionDenied) {
		t.Error("AccessDenied should translate to ErrPermissionDenied")
	}
	plain := errors.New("something else")
	if translateErr(plain) != plain {
		t.Error("unclassified errors should pass through unchanged")
	}
	if translateErr(nil) != nil {
		t.Error("nil should stay nil")
	}
}
