package inbound

import (
	"encoding/json"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-smarthome/core"
)

const (
	resultOK  = "OK"
	resultErr = "ERR"

	contentTypeJSON = "application/json"
)

// Request is the transport independent view of an inbound call.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Response is rendered back by the Lambda or HTTP adapter unchanged.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// ErrorBody is the structured error envelope for non-protocol failures.
type ErrorBody struct {
	Result   string `json:"result"`
	Message  string `json:"message"`
	Code     int    `json:"code,omitempty"`
	TextCode string `json:"text_code,omitempty"`
}

type messageBody struct {
	Result  string   `json:"result,omitempty"`
	Message string   `json:"message"`
	Deleted []string `json:"deleted,omitempty"`
}

func jsonResponse(status int, value any) Response {
	body, err := json.Marshal(value)
	if err != nil {
		body, _ = json.Marshal(ErrorBody{
			Result:   resultErr,
			Message:  "inbound: response encoding failed",
			Code:     http.StatusInternalServerError,
			TextCode: core.ErrorInternal,
		})
		status = http.StatusInternalServerError
	}
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": contentTypeJSON},
		Body:       body,
	}
}

// errorResponse maps any error through the service error mapper so the
// status code follows the error kind.
func errorResponse(err error) Response {
	mapped := core.MapError(err)
	if mapped == nil {
		mapped = goerrors.New("inbound: unknown failure", goerrors.CategoryInternal)
	}
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return jsonResponse(status, ErrorBody{
		Result:   resultErr,
		Message:  mapped.Message,
		Code:     status,
		TextCode: mapped.TextCode,
	})
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
