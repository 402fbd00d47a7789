package command

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/core"
)

// missingService reports a command built without the service it drives.
func missingService(name string) error {
	return goerrors.New(fmt.Sprintf("command: %s service is required", name), goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}
