package amazon

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultRetryAfterThrottle = 2 * time.Second

// ResponseMeta summarizes an Alexa event gateway reply.
type ResponseMeta struct {
	StatusCode   int
	RequestID    string
	RetryAfter   *time.Duration
	ErrorCode    string
	ErrorMessage string
}

// Throttled reports whether the gateway asked the caller to back off.
func (m ResponseMeta) Throttled() bool {
	return m.StatusCode == http.StatusTooManyRequests || m.StatusCode == http.StatusServiceUnavailable
}

// NormalizeGatewayResponse reads request id, retry hints and the error
// payload ({"header":...,"payload":{"code","description"}}) from a gateway
// response.
func NormalizeGatewayResponse(statusCode int, headers http.Header, body []byte) ResponseMeta {
	meta := ResponseMeta{StatusCode: statusCode}
	meta.RequestID = firstHeader(headers, "x-amzn-requestid", "x-amz-request-id")

	if retryAfter, ok := parseRetryAfter(headers); ok {
		meta.RetryAfter = &retryAfter
	}
	if meta.Throttled() && meta.RetryAfter == nil {
		retryAfter := defaultRetryAfterThrottle
		meta.RetryAfter = &retryAfter
	}
	if statusCode >= http.StatusBadRequest {
		meta.ErrorCode, meta.ErrorMessage = parseErrorPayload(body)
	}
	return meta
}

func parseRetryAfter(headers http.Header) (time.Duration, bool) {
	raw := firstHeader(headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func parseErrorPayload(body []byte) (string, string) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", ""
	}
	var decoded struct {
		Payload struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"payload"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return classifyErrorText(trimmed), ""
	}
	code := strings.TrimSpace(decoded.Payload.Code)
	message := strings.TrimSpace(decoded.Payload.Description)
	if message == "" {
		message = strings.TrimSpace(decoded.Message)
	}
	if code == "" {
		code = classifyErrorText(message)
	}
	return code, message
}

func classifyErrorText(text string) string {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, "quota"):
		return "QUOTA_EXCEEDED"
	case strings.Contains(lowered, "too many requests"), strings.Contains(lowered, "throttl"):
		return "THROTTLED"
	default:
		return ""
	}
}

func firstHeader(headers http.Header, keys ...string) string {
	if len(headers) == 0 {
		return ""
	}
	for _, key := range keys {
		if value := strings.TrimSpace(headers.Get(key)); value != "" {
			return value
		}
	}
	return ""
}
