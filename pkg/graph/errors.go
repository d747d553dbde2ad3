package graph

import (
	"context"
	"errors"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// classify maps raw driver errors into the shared taxonomy. Pool borrow
// timeouts surface as saturation so callers fail fast instead of piling
// up behind an exhausted pool.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *protocol.Error
	if errors.As(err, &typed) {
		return err
	}
	if isPoolExhausted(err) {
		return protocol.E(protocol.KindSaturation, op, err)
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		if strings.HasPrefix(neoErr.Code, "Neo.ClientError") {
			return protocol.E(protocol.KindValidation, op, err)
		}
		return protocol.E(protocol.KindConnection, op, err)
	}
	var connErr *neo4j.ConnectivityError
	if errors.As(err, &connErr) {
		return protocol.E(protocol.KindConnection, op, err)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.E(protocol.KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return protocol.E(protocol.KindCancelled, op, err)
	}
	return protocol.E(protocol.KindInternal, op, err)
}

// isPoolExhausted matches the driver's connection acquisition timeout.
// The pool error type lives in an internal package, so the message is
// the only stable handle.
func isPoolExhausted(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "waiting for connection") ||
		strings.Contains(msg, "acquisition timed out")
}
