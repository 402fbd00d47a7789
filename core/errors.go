package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput                  = "SMARTHOME_BAD_INPUT"
	ErrorNoCredential              = "SMARTHOME_NO_CREDENTIAL"
	ErrorRefreshFailed             = "SMARTHOME_REFRESH_FAILED"
	ErrorAuthFailed                = "SMARTHOME_AUTH_FAILED"
	ErrorClientCredentialsMissing  = "SMARTHOME_CLIENT_CREDENTIALS_MISSING"
	ErrorStorage                   = "SMARTHOME_STORAGE_ERROR"
	ErrorGateway                   = "SMARTHOME_GATEWAY_ERROR"
	ErrorUnsupportedOperation      = "SMARTHOME_UNSUPPORTED_OPERATION"
	ErrorTimeout                   = "SMARTHOME_TIMEOUT"
	ErrorNotFound                  = "SMARTHOME_NOT_FOUND"
	ErrorRateLimited               = "SMARTHOME_RATE_LIMITED"
	ErrorInternal                  = "SMARTHOME_INTERNAL_ERROR"
	clientCredentialsMissingDetail = "Environment variable is not set: client_id / client_secret"
)

// NewValidationError reports a malformed or missing request field.
func NewValidationError(field, message string) error {
	field = strings.TrimSpace(field)
	message = strings.TrimSpace(message)
	if message == "" {
		message = "invalid value"
	}
	err := goerrors.NewValidation(fmt.Sprintf("core: %s", message), goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
	if field != "" {
		err = err.WithMetadata(map[string]any{"field": field})
	}
	return err
}

func WrapValidationError(cause error, message string) error {
	if cause == nil {
		return nil
	}
	return goerrors.Wrap(cause, goerrors.CategoryValidation, strings.TrimSpace(message)).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

func NewNoCredentialError(userID string) error {
	return goerrors.New("core: no credential stored for user", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorNoCredential).
		WithMetadata(map[string]any{"user_id": strings.TrimSpace(userID)})
}

func NewRefreshFailedError(userID string, cause error) error {
	metadata := map[string]any{"user_id": strings.TrimSpace(userID)}
	if cause == nil {
		return goerrors.New("core: access token refresh failed", goerrors.CategoryAuth).
			WithCode(http.StatusUnauthorized).
			WithTextCode(ErrorRefreshFailed).
			WithMetadata(metadata)
	}
	return goerrors.Wrap(cause, goerrors.CategoryAuth, "core: access token refresh failed").
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorRefreshFailed).
		WithMetadata(metadata)
}

func NewAuthError(message string, cause error) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "core: authorization failed"
	}
	if cause == nil {
		return goerrors.New(message, goerrors.CategoryAuth).
			WithCode(http.StatusUnauthorized).
			WithTextCode(ErrorAuthFailed)
	}
	if IsTimeoutError(cause) {
		return NewTimeoutError(message, cause)
	}
	return goerrors.Wrap(cause, goerrors.CategoryAuth, message).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorAuthFailed)
}

// NewClientCredentialsError is returned when the skill client id or secret
// is not configured.
func NewClientCredentialsError() error {
	return goerrors.New(clientCredentialsMissingDetail, goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(ErrorClientCredentialsMissing)
}

func NewStorageError(operation string, cause error) error {
	operation = strings.TrimSpace(operation)
	message := "core: storage operation failed"
	if operation != "" {
		message = fmt.Sprintf("core: storage %s failed", operation)
	}
	if cause == nil {
		return goerrors.New(message, goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(ErrorStorage)
	}
	if IsStorageError(cause) {
		return cause
	}
	return goerrors.Wrap(cause, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorStorage).
		WithMetadata(map[string]any{"operation": operation})
}

// NewGatewayError reports a rejected or failed event gateway delivery.
// statusCode is the remote status, zero when no response was received.
func NewGatewayError(message string, statusCode int, cause error) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "core: event gateway delivery failed"
	}
	if cause != nil && IsTimeoutError(cause) {
		return NewTimeoutError("event gateway", cause)
	}
	metadata := map[string]any{}
	if statusCode > 0 {
		metadata["status_code"] = statusCode
	}
	var err *goerrors.Error
	if cause == nil {
		err = goerrors.New(message, goerrors.CategoryExternal)
	} else {
		err = goerrors.Wrap(cause, goerrors.CategoryExternal, message)
	}
	return err.
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorGateway).
		WithMetadata(metadata)
}

func NewUnsupportedOperationError(operation string) error {
	operation = strings.TrimSpace(operation)
	return goerrors.New(fmt.Sprintf("core: operation %q is not supported", operation), goerrors.CategoryOperation).
		WithCode(http.StatusNotImplemented).
		WithTextCode(ErrorUnsupportedOperation).
		WithMetadata(map[string]any{"operation": operation})
}

func NewTimeoutError(operation string, cause error) error {
	message := fmt.Sprintf("core: %s timed out", strings.TrimSpace(operation))
	if cause == nil {
		return goerrors.New(message, goerrors.CategoryExternal).
			WithCode(http.StatusGatewayTimeout).
			WithTextCode(ErrorTimeout)
	}
	return goerrors.Wrap(cause, goerrors.CategoryExternal, message).
		WithCode(http.StatusGatewayTimeout).
		WithTextCode(ErrorTimeout)
}

func IsValidationError(err error) bool {
	rich := richError(err)
	if rich == nil {
		return false
	}
	return rich.TextCode == ErrorBadInput ||
		rich.Category == goerrors.CategoryValidation ||
		rich.Category == goerrors.CategoryBadInput
}

// IsAuthError matches every auth failure kind, including NoCredential and
// RefreshFailed.
func IsAuthError(err error) bool {
	rich := richError(err)
	return rich != nil && rich.Category == goerrors.CategoryAuth
}

func IsNoCredential(err error) bool {
	return hasTextCode(err, ErrorNoCredential)
}

func IsRefreshFailed(err error) bool {
	return hasTextCode(err, ErrorRefreshFailed)
}

func IsClientCredentialsMissing(err error) bool {
	return hasTextCode(err, ErrorClientCredentialsMissing)
}

func IsStorageError(err error) bool {
	return hasTextCode(err, ErrorStorage)
}

func IsGatewayError(err error) bool {
	return hasTextCode(err, ErrorGateway)
}

func IsUnsupportedOperation(err error) bool {
	return hasTextCode(err, ErrorUnsupportedOperation)
}

func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, ErrorTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// HTTPStatus returns the status code the error maps to on the HTTP surface.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	mapped := serviceErrorMapper(err)
	if mapped == nil || mapped.Code == 0 {
		return http.StatusInternalServerError
	}
	return mapped.Code
}

// MapError normalizes any error into the rich error envelope.
func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

func hasTextCode(err error, code string) bool {
	rich := richError(err)
	return rich != nil && rich.TextCode == code
}

func richError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	return nil
}

// serviceErrorConverter is implemented by package errors that know their
// own envelope, such as local throttle rejections.
type serviceErrorConverter interface {
	ToServiceError() *goerrors.Error
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}
	var convertible serviceErrorConverter
	if errors.As(err, &convertible) {
		return ensureServiceErrorEnvelope(convertible.ToServiceError())
	}
	if IsTimeoutError(err) {
		return newServiceError(err.Error(), goerrors.CategoryExternal, ErrorTimeout)
	}
	if errors.Is(err, ErrCredentialNotFound) {
		return newServiceError(err.Error(), goerrors.CategoryAuth, ErrorNoCredential)
	}
	if errors.Is(err, ErrEndpointNotFound) {
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "not implemented"):
		return newServiceError(err.Error(), goerrors.CategoryOperation, ErrorUnsupportedOperation)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	err := goerrors.New(message, category).WithTextCode(textCode)
	if textCode == ErrorTimeout {
		err = err.WithCode(http.StatusGatewayTimeout)
	}
	return ensureServiceErrorEnvelope(err)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorAuthFailed
	case goerrors.CategoryAuthz:
		return ErrorClientCredentialsMissing
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryOperation:
		return ErrorUnsupportedOperation
	case goerrors.CategoryExternal:
		return ErrorGateway
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation:
		return http.StatusNotImplemented
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}
