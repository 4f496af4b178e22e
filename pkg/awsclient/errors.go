package awsclient

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

var authErrorCodes = map[string]bool{
	"UnrecognizedClientException": true,
	"InvalidClientTokenId":        true,
	"InvalidSignatureException":   true,
	"SignatureDoesNotMatch":       true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"InvalidAccessKeyId":          true,
	"MissingAuthenticationToken":  true,
	"RequestExpired":              true,
	"UnauthorizedException":       true,
}

// ErrorCode returns the smithy API error code in err's chain, or "".
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsErrorCode reports whether err is an API error with code.
func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsNotFound reports whether the resource addressed by the call does not exist.
func IsNotFound(err error) bool {
	switch ErrorCode(err) {
	case "ResourceNotFoundException", "NotFoundException", "NoSuchEntity", "RepositoryNotFoundException":
		return true
	}
	return false
}

// IsAuthError reports whether err is a credential or permission rejection.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if authErrorCodes[ErrorCode(err)] {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if code := respErr.HTTPStatusCode(); code == 401 || code == 403 {
			return true
		}
	}
	// Credential chain failures happen before any request is signed.
	msg := err.Error()
	return strings.Contains(msg, "failed to retrieve credentials") ||
		strings.Contains(msg, "no EC2 IMDS role found")
}

// IsRetryable reports whether a failed call is worth repeating as a whole.
// Throttling and 5xx responses are not: the SDK's standard retryer has
// already retried them inside the call. What is left are the states a
// function passes through while a previous update settles.
func IsRetryable(err error) bool {
	if err == nil || IsAuthError(err) {
		return false
	}
	switch ErrorCode(err) {
	case "ResourceConflictException", "ResourceNotReadyException":
		return true
	}
	return false
}
