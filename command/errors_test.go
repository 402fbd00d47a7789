package command

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/core"
)

func TestMessageValidationUsesBadInputEnvelope(t *testing.T) {
	cases := map[string]struct {
		validate func() error
		field    string
	}{
		"create without body":   {validate: CreateEndpointMessage{Body: []byte("  ")}.Validate, field: "body"},
		"delete without body":   {validate: DeleteEndpointsMessage{}.Validate, field: "body"},
		"change without user":   {validate: ReportChangeMessage{}.Validate, field: "userId"},
		"change without target": {validate: ReportChangeMessage{Request: core.ChangeReportRequest{UserID: "u1"}}.Validate, field: "endpointId"},
		"grant without code":    {validate: ExchangeGrantMessage{Request: core.ExchangeGrantRequest{UserID: "u1"}}.Validate, field: "grantCode"},
		"negative outbox batch": {validate: DispatchOutboxMessage{BatchSize: -1}.Validate, field: "batchSize"},
	}
	for name, tc := range cases {
		err := tc.validate()
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T", name, err)
		}
		if rich.TextCode != core.ErrorBadInput || core.HTTPStatus(err) != http.StatusBadRequest {
			t.Fatalf("%s: expected bad input 400, got %s/%d", name, rich.TextCode, core.HTTPStatus(err))
		}
		if rich.Metadata["field"] != tc.field {
			t.Fatalf("%s: expected field %q, got %#v", name, tc.field, rich.Metadata["field"])
		}
	}
}

func TestCommandsWithoutServiceFailInternally(t *testing.T) {
	ctx := context.Background()
	errs := map[string]error{
		"create":    (*CreateEndpointCommand)(nil).Execute(ctx, CreateEndpointMessage{}),
		"delete":    NewDeleteEndpointsCommand(nil).Execute(ctx, DeleteEndpointsMessage{}),
		"directive": NewRouteDirectiveCommand(nil).Execute(ctx, RouteDirectiveMessage{}),
		"outbox":    NewDispatchOutboxCommand(nil).Execute(ctx, DispatchOutboxMessage{}),
	}
	for name, err := range errs {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T", name, err)
		}
		if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ErrorInternal {
			t.Fatalf("%s: expected internal error, got %s/%s", name, rich.Category, rich.TextCode)
		}
	}
}
