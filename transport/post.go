package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-smarthome/core"
)

// gateway replies are small JSON documents; anything bigger is refused
const defaultMaxReplyBytes int64 = 64 << 10

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type gatewayReply struct {
	status  int
	header  http.Header
	body    []byte
	elapsed time.Duration
}

func (r gatewayReply) ok() bool {
	return r.status >= http.StatusOK && r.status < http.StatusMultipleChoices
}

// post sends one event document. Network failures and oversized replies are
// gateway errors, an expired deadline is a timeout. A non-2xx reply is not an
// error here.
func (c *GatewayClient) post(ctx context.Context, accessToken string, document []byte) (gatewayReply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(document))
	if err != nil {
		return gatewayReply{}, core.NewGatewayError("transport: build event request", 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", gatewayContentType)
	req.Header.Set("Cache-Control", "no-cache")

	started := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gatewayReply{}, core.NewTimeoutError("event gateway", err)
		}
		return gatewayReply{}, core.NewGatewayError("transport: event gateway request failed", 0, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxReplyBytes+1))
	if err != nil {
		return gatewayReply{}, core.NewGatewayError("transport: read event gateway reply", res.StatusCode, err)
	}
	if int64(len(body)) > c.maxReplyBytes {
		return gatewayReply{}, core.NewGatewayError(
			fmt.Sprintf("transport: event gateway reply exceeds %d bytes", c.maxReplyBytes),
			res.StatusCode,
			nil,
		)
	}
	return gatewayReply{
		status:  res.StatusCode,
		header:  res.Header.Clone(),
		body:    body,
		elapsed: time.Since(started),
	}, nil
}
