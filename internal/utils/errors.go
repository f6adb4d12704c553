package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a download failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNetwork
	KindClient
	KindDiskSpace
	KindResume
	KindIntegrity
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindNetwork:
		return "network"
	case KindClient:
		return "client error"
	case KindDiskSpace:
		return "insufficient disk space"
	case KindResume:
		return "resume validation"
	case KindIntegrity:
		return "chunk integrity"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a failure of this kind is worth retrying.
func (k Kind) Recoverable() bool {
	switch k {
	case KindNetwork, KindResume, KindIntegrity:
		return true
	}
	return false
}

type DownloadError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// UserMessage is the explanation shown to people, separating transient
// causes from ones that need a different input.
func (e *DownloadError) UserMessage() string {
	switch e.Kind {
	case KindInvalidInput:
		return fmt.Sprintf("Invalid input (%v); fix the URL or output path and run again", e.Err)
	case KindClient:
		if e.StatusCode == http.StatusNotFound {
			return "The resource was not found (404); the link may have expired"
		}
		if e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusUnauthorized {
			return fmt.Sprintf("Access denied (%d); refresh the link or credentials", e.StatusCode)
		}
		return fmt.Sprintf("The server rejected the request (%v); this will not succeed on retry", e.Err)
	case KindDiskSpace:
		return "Not enough disk space to download this file"
	case KindNetwork:
		return fmt.Sprintf("Network problem (%v); try again and the download will resume", e.Err)
	case KindResume:
		return "The partial download was unusable and has been discarded; run again to start fresh"
	case KindIntegrity:
		return fmt.Sprintf("Downloaded data did not match the expected size (%v); try again", e.Err)
	case KindCancelled:
		return "Download cancelled; run the same command again to resume"
	default:
		return e.Error()
	}
}

func NewError(kind Kind, op string, err error) *DownloadError {
	return &DownloadError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification of err, treating context errors
// and transport failures the way the retry policy expects.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindUnknown
}

func IsRecoverable(err error) bool {
	return KindOf(err).Recoverable()
}

// ClassifyStatus maps a non-success HTTP status into a DownloadError.
func ClassifyStatus(op string, code int) *DownloadError {
	err := fmt.Errorf("unexpected status code: %d", code)
	switch {
	case code >= 500, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return &DownloadError{Kind: KindNetwork, Op: op, StatusCode: code, Err: err}
	default:
		return &DownloadError{Kind: KindClient, Op: op, StatusCode: code, Err: err}
	}
}

// ClassifyTransport wraps an error returned by the transport. A cancelled
// parent context wins over the transport's own error.
func ClassifyTransport(ctx context.Context, op string, err error) *DownloadError {
	if ctx.Err() == context.Canceled {
		return &DownloadError{Kind: KindCancelled, Op: op, Err: ctx.Err()}
	}
	return &DownloadError{Kind: KindNetwork, Op: op, Err: err}
}
