package apply

import (
	"context"
	"errors"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"
)

// IsRetryable reports whether err is a transient failure a later attempt can
// succeed against: API server unavailable or overloaded, request timeouts,
// optimistic-concurrency conflicts, or a cancelled/expired context during
// shutdown.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return apierrors.IsConflict(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) ||
		utilnet.IsConnectionRefused(err) ||
		utilnet.IsConnectionReset(err)
}

// IsRejected reports whether the API server refused the request as malformed
// or impermissible. Retrying the same payload cannot succeed, so the
// conductor treats these like validation failures.
func IsRejected(err error) bool {
	if err == nil {
		return false
	}
	return apierrors.IsInvalid(err) ||
		apierrors.IsBadRequest(err) ||
		apierrors.IsRequestEntityTooLargeError(err)
}
