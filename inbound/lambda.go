package inbound

import (
	"context"
	"encoding/base64"

	"github.com/aws/aws-lambda-go/events"
)

// LambdaHandler adapts the dispatcher to API Gateway proxy integration.
type LambdaHandler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

func NewLambdaHandler(d *Dispatcher) LambdaHandler {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		body := []byte(req.Body)
		if req.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(req.Body)
			if err != nil {
				return toProxyResponse(errorResponse(badRequest("inbound: body is not valid base64", map[string]any{
					"path": req.Path,
				}))), nil
			}
			body = decoded
		}
		resp := d.Dispatch(ctx, Request{
			Method:  req.HTTPMethod,
			Path:    req.Path,
			Headers: req.Headers,
			Body:    body,
		})
		return toProxyResponse(resp), nil
	}
}

func toProxyResponse(resp Response) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       string(resp.Body),
	}
}
