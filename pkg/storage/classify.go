package storage

import (
	"context"
	"errors"
	"net"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
)

// Classify maps a backend or Google API error onto an explorer error type. Errors that are
// already structured pass through.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var structured *explorererrors.Error
	if errors.As(err, &structured) {
		return err
	}

	errType := explorererrors.ErrorTypeConnection
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		errType = explorererrors.ErrorTypeTimeout
	default:
		if t, ok := httpStatusType(err); ok {
			errType = t
			break
		}
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			errType = explorererrors.ErrorTypeAuthentication
			break
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			errType = explorererrors.ErrorTypeConnection
		}
	}
	return explorererrors.Wrap(err, errType, message)
}

// asError is Classify for callers that want to attach details.
func asError(err error, message string) *explorererrors.Error {
	var e *explorererrors.Error
	if errors.As(Classify(err, message), &e) {
		return e
	}
	return explorererrors.Wrap(err, explorererrors.ErrorTypeInternal, message)
}

func httpStatusType(err error) (explorererrors.ErrorType, bool) {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return "", false
	}
	return statusType(apiErr.Code), true
}

func statusType(code int) explorererrors.ErrorType {
	switch {
	case code == http.StatusUnauthorized:
		return explorererrors.ErrorTypeAuthentication
	case code == http.StatusForbidden:
		return explorererrors.ErrorTypePermission
	case code == http.StatusNotFound:
		return explorererrors.ErrorTypeNotFound
	case code == http.StatusTooManyRequests:
		return explorererrors.ErrorTypeRateLimit
	case code == http.StatusRequestTimeout:
		return explorererrors.ErrorTypeTimeout
	case code >= 500:
		return explorererrors.ErrorTypeConnection
	default:
		return explorererrors.ErrorTypeInternal
	}
}
