// ABOUTME: Wire envelope exchanged between hub sockets and clients
// ABOUTME: Defines frame kinds, ack/error payloads and namespace naming rules

package hub

import (
	"encoding/json"
	"strings"
)

// RootNamespace is the namespace every socket joins on connect.
const RootNamespace = "/"

// FrameKind identifies the purpose of a Frame.
type FrameKind string

const (
	KindConnect    FrameKind = "connect"    // server -> client, carries the socket id
	KindEvent      FrameKind = "event"      // named event, optionally requesting an ack
	KindAck        FrameKind = "ack"        // reply to a frame that carried an AckID
	KindJoin       FrameKind = "join"       // client -> server, join a namespace
	KindLeave      FrameKind = "leave"      // client -> server, leave a namespace
	KindDisconnect FrameKind = "disconnect" // server -> client, carries the reason
)

// ErrorPayload is the error half of an ack.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Frame is the unit of traffic on a Transport.
type Frame struct {
	Kind      FrameKind       `json:"kind"`
	Namespace string          `json:"ns,omitempty"`
	Event     string          `json:"event,omitempty"`
	AckID     uint64          `json:"ack,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

// Err returns the ack error as a Go error, or nil.
func (f *Frame) Err() error {
	if f == nil || f.Error == nil {
		return nil
	}
	return &RemoteError{Message: f.Error.Message}
}

// RemoteError is an error reported by the other side of a connection.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// ConnectInfo is the payload of a KindConnect frame.
type ConnectInfo struct {
	ID string `json:"id"`
}

// NormalizeNamespace maps "" to the root namespace and ensures a leading slash.
func NormalizeNamespace(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return RootNamespace
	}
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}
	return name
}

// marshalData encodes an event payload. Payloads that are already encoded
// are passed through untouched.
func marshalData(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	default:
		return json.Marshal(v)
	}
}

func errorPayload(err error) *ErrorPayload {
	if err == nil {
		return nil
	}
	return &ErrorPayload{Message: err.Error()}
}
