// Package lsptypes holds the wire types the Lifecycle Gate itself
// inspects or must echo back verbatim. Everything else — the exhaustive
// per-feature capability catalogue, text document synchronization
// payloads, and so on — is the concern of whatever is layered on top of
// the core, so it travels as opaque json.RawMessage here instead of a
// struct per LSP method.
package lsptypes

import "encoding/json"

// TraceValue is the `$/setTrace` / initialize.trace verbosity level.
type TraceValue string

const (
	TraceOff      TraceValue = "off"
	TraceMessages TraceValue = "messages"
	TraceVerbose  TraceValue = "verbose"
)

// IsValid reports whether v is one of the three values the protocol
// defines. The lifecycle gate rejects or ignores an unrecognized value
// and keeps its current trace level.
func (v TraceValue) IsValid() bool {
	switch v {
	case TraceOff, TraceMessages, TraceVerbose:
		return true
	default:
		return false
	}
}

// ClientInfo is the optional client identity sent with initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerInfo is the optional server identity returned from initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is the payload of the initialize request. Capabilities
// and workspace folders are carried opaquely: the core never inspects
// them, it only ever passes them through to whatever registers itself on
// top of the Lifecycle Gate.
type InitializeParams struct {
	ProcessID             *int            `json:"processId"`
	ClientInfo            *ClientInfo     `json:"clientInfo,omitempty"`
	RootURI               *string         `json:"rootUri,omitempty"`
	InitializationOptions json.RawMessage `json:"initializationOptions,omitempty"`
	Capabilities          json.RawMessage `json:"capabilities"`
	Trace                 TraceValue      `json:"trace,omitempty"`
	WorkspaceFolders      json.RawMessage `json:"workspaceFolders,omitempty"`
}

// InitializeResult is the payload returned in response to initialize.
// Capabilities is opaque JSON supplied by the caller of the Lifecycle
// Gate (the server's declared capability object), not interpreted here.
type InitializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
	ServerInfo   *ServerInfo     `json:"serverInfo,omitempty"`
}

// SetTraceParams is the payload of the $/setTrace notification.
type SetTraceParams struct {
	Value TraceValue `json:"value"`
}

// LogTraceParams is the payload of the $/logTrace notification.
type LogTraceParams struct {
	Message string  `json:"message"`
	Verbose *string `json:"verbose,omitempty"`
}

// CancelParams is the payload of the $/cancelRequest notification. ID
// reuses json.RawMessage rather than jsonrpc.RequestId so this package
// stays independent of the wire-message model; callers decode it with
// jsonrpc.RequestId.UnmarshalJSON via a thin wrapper where needed.
type CancelParams struct {
	ID json.RawMessage `json:"id"`
}

// ProgressToken identifies a $/progress stream; it is either a string or
// an integer, same shape as a RequestId.
type ProgressToken = json.RawMessage

// ProgressParams is the payload of a $/progress notification.
type ProgressParams struct {
	Token ProgressToken   `json:"token"`
	Value json.RawMessage `json:"value"`
}
