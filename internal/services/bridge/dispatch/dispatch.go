// Package dispatch converts raw inbound bytes into typed requests and routes
// each one to its registered handler.
//
// Resolution is a static table built once at startup: adding a message type is
// one Register call, and unregistered types fail closed. A failure while
// handling one message never affects the connection it arrived on or any other
// message.
package dispatch

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ModdedMinecraftClub/Mmcc.Bot-sub001/internal/services/bridge/wire"
)

const tracerName = "mmcc.bot/bridge/dispatch"

// Request is one decoded inbound message paired with the identity of the
// connection that sent it. It is created by the resolver, consumed exactly
// once by the pipeline, then discarded.
type Request struct {
	ConnID string
	Name   string
	Body   wire.Message
}

// Handler processes one typed request.
type Handler func(ctx context.Context, req Request) error

// UnknownTypeError reports an envelope whose type identifier has no
// registered schema. The connection stays open; the caller logs it.
type UnknownTypeError struct {
	TypeURL string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.TypeURL)
}

// DecodeError reports a malformed envelope or body. Local to one message.
type DecodeError struct {
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("decode envelope: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type schemaEntry struct {
	newBody func() wire.Message
	handle  Handler
}

// Pipeline owns the lifecycle of one inbound message: envelope parsing, type
// resolution, handler routing, and the telemetry span around it.
type Pipeline struct {
	tracer  trace.Tracer
	schemas map[string]schemaEntry
}

// New creates an empty pipeline.
func New() *Pipeline {
	return &Pipeline{
		tracer:  otel.Tracer(tracerName),
		schemas: make(map[string]schemaEntry),
	}
}

// Register binds a schema to its handler. The prototype supplies the schema
// name and the concrete type decoded for each arriving message. Register is
// for startup wiring only; it is not safe to call concurrently with Handle.
func (p *Pipeline) Register(prototype func() wire.Message, handle Handler) {
	name := wire.CanonicalName(prototype().SchemaName())
	p.schemas[name] = schemaEntry{newBody: prototype, handle: handle}
}

// Handle processes one framed message received on the identified connection.
// Exactly one handler invocation happens per successfully resolved message;
// handler errors propagate unchanged and the connection is never closed here.
func (p *Pipeline) Handle(ctx context.Context, connID string, raw []byte) error {
	envelope, err := wire.ParseEnvelope(raw)
	if err != nil {
		return &DecodeError{Err: err}
	}

	name := wire.CanonicalName(envelope.GetTypeUrl())
	ctx, span := p.tracer.Start(ctx, name)
	defer span.End()
	span.SetStatus(codes.Error, "")
	span.SetAttributes(attribute.String("bridge.conn_id", connID))

	entry, ok := p.schemas[name]
	if !ok {
		span.SetAttributes(attribute.String("bridge.failure", "unknown_message_type"))
		return &UnknownTypeError{TypeURL: envelope.GetTypeUrl()}
	}

	body := entry.newBody()
	if err := body.UnmarshalBinary(envelope.GetValue()); err != nil {
		span.SetAttributes(attribute.String("bridge.failure", "malformed_body"))
		return &DecodeError{Name: name, Err: err}
	}

	req := Request{ConnID: connID, Name: name, Body: body}
	if err := entry.handle(ctx, req); err != nil {
		span.RecordError(err)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
