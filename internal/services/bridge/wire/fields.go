package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// consumeFields walks the wire-format fields of data, handing each one to
// consume. Unknown field numbers are skipped by the callers' default branch.
func consumeFields(data []byte, consume func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		n, err := consume(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("consume field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendUint32Field(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func consumeStringField(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("field has wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, fmt.Errorf("consume string: %w", protowire.ParseError(n))
	}
	*dst = v
	return n, nil
}

func consumeUint32Field(typ protowire.Type, b []byte, dst *uint32) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("field has wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("consume varint: %w", protowire.ParseError(n))
	}
	*dst = uint32(v)
	return n, nil
}
