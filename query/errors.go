package query

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/core"
)

func missingDependency(name string) error {
	return goerrors.New(fmt.Sprintf("query: %s is required", name), goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

// endpointNotFound turns a registry miss into a 404 envelope and passes any
// other error through.
func endpointNotFound(err error, endpointID string) error {
	if !errors.Is(err, core.ErrEndpointNotFound) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryNotFound, "query: endpoint not found").
		WithCode(http.StatusNotFound).
		WithTextCode(core.ErrorNotFound).
		WithMetadata(map[string]any{"endpoint_id": endpointID})
}
