package offline

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/erp/agency/internal/domain/shared"
)

// ErrRemoteUnavailable marks a remote failure where the request never reached
// durable storage. Remote adapters wrap transport-class errors with it.
var ErrRemoteUnavailable = errors.New("remote store unavailable")

// ErrorClass groups remote failures by how the write path reacts to them
type ErrorClass int

const (
	// ErrorClassNone is returned for a nil error
	ErrorClassNone ErrorClass = iota
	// ErrorClassTransient errors are recovered by queueing
	ErrorClassTransient
	// ErrorClassRejected errors are propagated and never queued
	ErrorClassRejected
	// ErrorClassUnexpected errors get one last-resort queue attempt
	ErrorClassUnexpected
)

// String returns the class name used in logs
func (c ErrorClass) String() string {
	switch c {
	case ErrorClassNone:
		return "none"
	case ErrorClassTransient:
		return "transient"
	case ErrorClassRejected:
		return "rejected"
	default:
		return "unexpected"
	}
}

// transientMarkers are substrings seen in transport failures surfaced as plain text
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"fetch",
	"pgrst101",
}

// ClassifyError sorts err into transient, rejected or unexpected
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassNone
	}
	if IsTransient(err) {
		return ErrorClassTransient
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return ErrorClassRejected
	}
	return ErrorClassUnexpected
}

// IsTransient reports whether err indicates the remote store was not reached
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
