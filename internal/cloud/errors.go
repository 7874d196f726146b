package cloud

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ErrorKind groups cloud API failures by how callers should react.
type ErrorKind string

const (
	KindCapacity    ErrorKind = "capacity"
	KindThrottling  ErrorKind = "throttling"
	KindPermissions ErrorKind = "permissions"
	KindUnknown     ErrorKind = "unknown"
)

// APIError is a cloud-side failure. It carries the operation that
// failed and a kind derived from the provider's error code.
type APIError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// wrapAPIError classifies err and wraps it with the failing operation.
func wrapAPIError(op string, err error) *APIError {
	return &APIError{Op: op, Kind: Classify(err), Err: err}
}

var capacityCodes = map[string]struct{}{
	"InsufficientCapacity":         {},
	"InsufficientInstanceCapacity": {},
	"InsufficientHostCapacity":     {},
	"InstanceLimitExceeded":        {},
	"MaxSpotInstanceCountExceeded": {},
	"SpotMaxPriceTooLow":           {},
}

var throttlingCodes = map[string]struct{}{
	"RequestLimitExceeded":       {},
	"Throttling":                 {},
	"ThrottlingException":        {},
	"RequestThrottled":           {},
	"RequestThrottledException":  {},
	"EC2ThrottledException":      {},
	"ProvisionedThroughputLimit": {},
}

var permissionCodes = map[string]struct{}{
	"UnauthorizedOperation": {},
	"AuthFailure":           {},
	"AccessDenied":          {},
	"AccessDeniedException": {},
	"InvalidClientTokenId":  {},
	"SignatureDoesNotMatch": {},
	"OptInRequired":         {},
}

// Classify maps an AWS error code to an ErrorKind. Errors that are not
// smithy API errors, or carry an unlisted code, are KindUnknown.
func Classify(err error) ErrorKind {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return KindUnknown
	}
	return classifyCode(apiErr.ErrorCode())
}

func classifyCode(code string) ErrorKind {
	if _, ok := capacityCodes[code]; ok {
		return KindCapacity
	}
	if _, ok := throttlingCodes[code]; ok {
		return KindThrottling
	}
	if _, ok := permissionCodes[code]; ok {
		return KindPermissions
	}
	return KindUnknown
}

// KindOf extracts the kind from an error chain. Unwrapped provider
// errors are classified on the spot; anything else is KindUnknown.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Classify(err)
}

// errorCodeIs reports whether err is a smithy API error with one of
// the given codes.
func errorCodeIs(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
