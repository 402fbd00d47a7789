package inbound

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/core"
)

// requestError builds the envelope answered to API callers. Only bad input
// and internal failures originate in this package; service errors already
// carry their own envelope.
func requestError(category goerrors.Category, message string, cause error, metadata map[string]any) error {
	status, textCode := http.StatusInternalServerError, core.ErrorInternal
	if category == goerrors.CategoryBadInput {
		status, textCode = http.StatusBadRequest, core.ErrorBadInput
	}
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	err = err.WithCode(status).WithTextCode(textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func badRequest(message string, metadata map[string]any) error {
	return requestError(goerrors.CategoryBadInput, message, nil, metadata)
}

func internalFailure(message string, cause error, metadata map[string]any) error {
	return requestError(goerrors.CategoryInternal, message, cause, metadata)
}

// Unknown paths answer 500 "No known path in request".
func unknownRouteError(method, path string) error {
	return internalFailure("No known path in request", nil, map[string]any{"method": method, "path": path})
}
