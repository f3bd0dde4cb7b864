package codec

import (
	"bytes"
	"fmt"

	"github.com/tgxzd/agrox/internal/schema"
)

// EncodeArgs builds an instruction payload: the 8-byte instruction tag
// followed by each argument in the schema-declared order. Argument count
// and Go types are validated against the schema definition.
func (c *Codec) EncodeArgs(instruction string, args ...any) ([]byte, error) {
	def, ok := c.schema.Instruction(instruction)
	if !ok {
		return nil, fmt.Errorf("instruction %q not in schema", instruction)
	}
	if len(args) != len(def.Args) {
		return nil, fmt.Errorf("instruction %q takes %d args, got %d", instruction, len(def.Args), len(args))
	}

	w := &writer{}
	tag := schema.InstructionTag(instruction)
	w.bytes(tag[:])

	for i, field := range def.Args {
		if err := encodeArg(w, field, args[i]); err != nil {
			return nil, fmt.Errorf("instruction %q arg %q: %w", instruction, field.Name, err)
		}
	}
	return w.buf, nil
}

func encodeArg(w *writer, field schema.Field, v any) error {
	switch field.Type {
	case schema.TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		w.str(s)
	case schema.TypeOptionString:
		switch s := v.(type) {
		case string:
			w.optStr(s)
		case nil:
			w.optStr("")
		default:
			return fmt.Errorf("want string or nil, got %T", v)
		}
	case schema.TypeF64:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("want float64, got %T", v)
		}
		w.f64(f)
	case schema.TypeU64:
		u, ok := v.(uint64)
		if !ok {
			return fmt.Errorf("want uint64, got %T", v)
		}
		w.u64(u)
	case schema.TypeI64:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("want int64, got %T", v)
		}
		w.i64(n)
	case schema.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		w.bool(b)
	default:
		return fmt.Errorf("unsupported arg type %q", field.Type)
	}
	return nil
}

// DecodeArgs parses an instruction payload previously built by EncodeArgs,
// verifying the tag and returning arguments in schema order.
func (c *Codec) DecodeArgs(instruction string, payload []byte) ([]any, error) {
	def, ok := c.schema.Instruction(instruction)
	if !ok {
		return nil, fmt.Errorf("instruction %q not in schema", instruction)
	}
	if len(payload) < 8 {
		return nil, ErrTruncated
	}
	tag := schema.InstructionTag(instruction)
	if !bytes.Equal(payload[:8], tag[:]) {
		return nil, fmt.Errorf("payload tag does not match instruction %q", instruction)
	}

	r := newReader(payload[8:])
	out := make([]any, 0, len(def.Args))
	for _, field := range def.Args {
		switch field.Type {
		case schema.TypeString:
			out = append(out, r.str())
		case schema.TypeOptionString:
			out = append(out, r.optStr())
		case schema.TypeF64:
			out = append(out, r.f64())
		case schema.TypeU64:
			out = append(out, r.u64())
		case schema.TypeI64:
			out = append(out, r.i64())
		case schema.TypeBool:
			out = append(out, r.bool())
		default:
			return nil, fmt.Errorf("unsupported arg type %q", field.Type)
		}
		if r.err != nil {
			return nil, r.err
		}
	}
	return out, nil
}
