// Package message defines the wire envelopes that carry request/response and
// heartbeat traffic across queues and the WebSocket bridge. Request and
// BindRequest round-trip through BSON so they can cross the bridge's binary
// frames unchanged; Heartbeat is JSON-friendly for the remote gateway's log
// and monitoring sinks.
package message

import (
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// Request is the envelope created by a worker's SendRequest call. It flows
// through a publish queue (and possibly the WebSocket bridge) to a responder,
// which mutates Data and returns it via RespondTo; the framework then routes
// it back into the caller's system inbox by ClientProcess.
type Request struct {
	UID           uuid.UUID `bson:"uid"`
	ClientProcess string    `bson:"client_process"`
	ServiceName   string    `bson:"service_name"`
	Data          any       `bson:"data"`
}

// NewRequest builds a Request with a fresh random UID.
func NewRequest(clientProcess, serviceName string, data any) (Request, error) {
	if clientProcess == "" {
		return Request{}, fmt.Errorf("message: client_process must not be empty")
	}
	return Request{
		UID:           uuid.New(),
		ClientProcess: clientProcess,
		ServiceName:   serviceName,
		Data:          data,
	}, nil
}

// ToBSON encodes the request as BSON, matching the source framework's
// Request.to_bson.
func (r Request) ToBSON() ([]byte, error) {
	return bson.Marshal(r)
}

// RequestFromBSON decodes a Request previously produced by ToBSON.
func RequestFromBSON(data []byte) (Request, error) {
	var r Request
	if err := bson.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("message: invalid request bson: %w", err)
	}
	return r, nil
}

// BindRequest wraps a Request with an explicit topic-exchange routing key,
// used when the remote exchange type is "topic" rather than "fanout". The
// embedded Request may itself already be BSON-encoded bytes (as produced by
// a remote peer) or a live Request value.
type BindRequest struct {
	BindKey string `bson:"bind_key"`
	Request any    `bson:"request"`
}

// NewBindRequest wraps req for publication under bindKey.
func NewBindRequest(bindKey string, req Request) BindRequest {
	return BindRequest{BindKey: bindKey, Request: req}
}

// ToBSON encodes the bind-request envelope. If Request holds a live Request
// value it is embedded as a document; if it already holds raw bytes, those
// bytes are embedded as a BSON binary field, matching the source framework's
// behaviour of accepting either representation.
func (b BindRequest) ToBSON() ([]byte, error) {
	doc := bson.D{{Key: "bind_key", Value: b.BindKey}}

	switch req := b.Request.(type) {
	case Request:
		doc = append(doc, bson.E{Key: "request", Value: req})
	case []byte:
		doc = append(doc, bson.E{Key: "request", Value: req})
	default:
		return nil, fmt.Errorf("message: bind_request.request must be Request or []byte, got %T", b.Request)
	}

	return bson.Marshal(doc)
}

// BindRequestFromBSON decodes a BindRequest envelope. The embedded request is
// always resolved to a concrete Request value, decoding nested BSON bytes if
// necessary.
func BindRequestFromBSON(data []byte) (BindRequest, error) {
	var raw struct {
		BindKey string `bson:"bind_key"`
		Request bson.RawValue `bson:"request"`
	}
	if err := bson.Unmarshal(data, &raw); err != nil {
		return BindRequest{}, fmt.Errorf("message: invalid bind_request bson: %w", err)
	}

	var req Request
	switch raw.Request.Type {
	case bson.TypeBinary:
		_, bytesVal := raw.Request.Binary()
		decoded, err := RequestFromBSON(bytesVal)
		if err != nil {
			return BindRequest{}, err
		}
		req = decoded
	case bson.TypeEmbeddedDocument:
		if err := raw.Request.Unmarshal(&req); err != nil {
			return BindRequest{}, fmt.Errorf("message: invalid embedded request: %w", err)
		}
	default:
		return BindRequest{}, fmt.Errorf("message: unexpected request field type %v", raw.Request.Type)
	}

	return BindRequest{BindKey: raw.BindKey, Request: req}, nil
}
