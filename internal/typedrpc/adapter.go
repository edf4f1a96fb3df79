// Package typedrpc adapts typed Go functions to the untyped
// dispatch.RequestHandler / dispatch.NotificationHandler signatures,
// generalizing the hand-unmarshal-per-method pattern teacher's own
// ClangdClient uses at each of its GetDefinition/GetHover/etc. call
// sites into one generic wrapper built with Go generics.
package typedrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/firi/lspwire/internal/dispatch"
	"github.com/firi/lspwire/internal/jsonrpc"
)

// isOptional reports whether T's zero value is an acceptable stand-in
// for "params absent": pointers, slices, maps, and interfaces all have
// a meaningful nil zero value; anything else (a plain struct, an int,
// a string) does not, so absent params are an error for those.
func isOptional[T any]() bool {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return true
	}
	switch t.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	default:
		return false
	}
}

// Request adapts fn, a typed request handler, into a dispatch.RequestHandler.
// Params decode failure and missing-params-for-a-non-optional-P both
// surface as InvalidParams; any error fn returns (including a
// *jsonrpc.ResponseError) is propagated unmodified.
func Request[P any, R any](fn func(ctx context.Context, params P) (R, error)) dispatch.RequestHandler {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var params P
		switch {
		case len(raw) == 0:
			if !isOptional[P]() {
				return nil, jsonrpc.NewResponseError(jsonrpc.CodeInvalidParams, "missing params")
			}
		default:
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, jsonrpc.NewResponseError(jsonrpc.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
			}
		}

		result, err := fn(ctx, params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}
}

// Notification adapts fn, a typed notification handler, into a
// dispatch.NotificationHandler. There is no result to marshal, so only
// the decode side of Request's contract applies.
func Notification[P any](fn func(ctx context.Context, params P) error) dispatch.NotificationHandler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var params P
		switch {
		case len(raw) == 0:
			if !isOptional[P]() {
				return jsonrpc.NewResponseError(jsonrpc.CodeInvalidParams, "missing params")
			}
		default:
			if err := json.Unmarshal(raw, &params); err != nil {
				return jsonrpc.NewResponseError(jsonrpc.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
			}
		}
		return fn(ctx, params)
	}
}
