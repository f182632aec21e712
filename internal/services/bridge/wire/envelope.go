// Package wire defines the envelope and message schemas exchanged with game
// servers over the bridge connection.
//
// The envelope is a protobuf Any: a URL-like type identifier plus the binary
// body of one schema. Bodies use the protobuf wire format, encoded and decoded
// field by field so the schema set stays an explicit table rather than
// generated code.
package wire

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// TypeURLPrefix namespaces every schema carried by the bridge protocol.
const TypeURLPrefix = "type.moddedminecraft.club/polychat."

// Message is one bridge protocol schema. Implementations encode to and decode
// from the protobuf wire format.
type Message interface {
	SchemaName() string
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// Pack wraps a message body into a serialized envelope ready for the wire.
func Pack(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is required")
	}
	body, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", msg.SchemaName(), err)
	}
	envelope := &anypb.Any{
		TypeUrl: TypeURLPrefix + msg.SchemaName(),
		Value:   body,
	}
	raw, err := proto.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return raw, nil
}

// ParseEnvelope decodes raw bytes into an envelope. A failure here is terminal
// for this one message only; the connection that delivered it is unaffected.
func ParseEnvelope(raw []byte) (*anypb.Any, error) {
	envelope := &anypb.Any{}
	if err := proto.Unmarshal(raw, envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if strings.TrimSpace(envelope.GetTypeUrl()) == "" {
		return nil, fmt.Errorf("envelope has no type url")
	}
	return envelope, nil
}

// CanonicalName extracts the schema name from a type URL and upper-cases its
// first letter. The result keys the resolver table and names the dispatch span.
func CanonicalName(typeURL string) string {
	name := typeURL
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(first)) + name[size:]
}
