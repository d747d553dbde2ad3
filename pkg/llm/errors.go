package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	oai "github.com/openai/openai-go"

	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// classifyProviderError maps an SDK or transport error onto the module
// taxonomy. Rate limits and 5xx responses are retryable provider
// outages; other HTTP statuses are terminal for this request.
func classifyProviderError(op string, err error) error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return err
	}

	if status, ok := httpStatus(err); ok {
		switch {
		case status == http.StatusTooManyRequests:
			return protocol.E(protocol.KindProviderUnavail, op, err)
		case status >= http.StatusInternalServerError:
			return protocol.E(protocol.KindProviderUnavail, op, err)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return protocol.E(protocol.KindUnauthorized, op, err)
		case status == http.StatusRequestTimeout:
			return protocol.E(protocol.KindTimeout, op, err)
		default:
			return protocol.E(protocol.KindInternal, op, err)
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.E(protocol.KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return protocol.E(protocol.KindCancelled, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return protocol.E(protocol.KindTimeout, op, err)
		}
		return protocol.E(protocol.KindConnection, op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return protocol.E(protocol.KindConnection, op, err)
	}

	// SDKs wrap socket failures in plain errors; anything unrecognized
	// from a remote call is treated as a connection fault so the router
	// may try the next provider.
	return protocol.E(protocol.KindConnection, op, err)
}

// httpStatus extracts the HTTP status from either vendor SDK error type.
func httpStatus(err error) (int, bool) {
	var oaiErr *oai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode, true
	}
	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		return sdkErr.StatusCode, true
	}
	return 0, false
}

// parseToolArguments decodes the JSON argument blob a model attached to
// a tool call. Malformed payloads yield an empty map rather than an
// error; the tool layer reports schema problems to the model itself.
func parseToolArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// encodeToolArguments is the inverse, used when replaying assistant
// turns back to a provider.
func encodeToolArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
