package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
)

type Kind uint8

const (
	KindScalar Kind = iota
	KindStruct
	KindSequence
	KindHidden
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindStruct:
		return "struct"
	case KindSequence:
		return "sequence"
	case KindHidden:
		return "hidden"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Node is anything the command interpreter can stand on while walking a path.
type Node interface {
	Kind() Kind
}

type Scalar interface {
	Node
	SetJSON(raw json.RawMessage) error
}

// Struct is implemented by every replicated struct type. Child hands back a
// pointer to the named field so the interpreter can keep walking into it.
type Struct interface {
	Node
	Child(name string) (any, bool)
	Method(name string) (Method, bool)
}

type Sequence interface {
	Node
	Len() int
	Index(i int) (Node, error)
	PushJSON(raw json.RawMessage) error
	Remove(i int) error
}

// Method is a remote method with a fixed number of JSON arguments.
type Method struct {
	Arity int
	Fn    func(ctx *Context, args []json.RawMessage) error
}

// NodeOf adapts a pointer into the tree to a Node. The set of scalar types is
// closed; anything else has to implement Node itself.
func NodeOf(ptr any) (Node, error) {
	switch p := ptr.(type) {
	case Node:
		return p, nil
	case *bool:
		return scalarRef[bool]{p}, nil
	case *uint8:
		return scalarRef[uint8]{p}, nil
	case *int:
		return scalarRef[int]{p}, nil
	case *uint64:
		return scalarRef[uint64]{p}, nil
	case *string:
		return scalarRef[string]{p}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported node type %T", ErrKind, ptr)
	}
}

type scalarRef[T any] struct{ p *T }

func (scalarRef[T]) Kind() Kind { return KindScalar }

func (s scalarRef[T]) SetJSON(raw json.RawMessage) error {
	var v T
	if err := decodeStrict(raw, &v); err != nil {
		return err
	}
	*s.p = v
	return nil
}

// Seq is a replicated sequence. It always encodes as a JSON array, including
// sequences of bytes.
type Seq[T any] []T

func (*Seq[T]) Kind() Kind { return KindSequence }

func (s *Seq[T]) Len() int { return len(*s) }

func (s *Seq[T]) Index(i int) (Node, error) {
	if i < 0 || i >= len(*s) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrIndex, i, len(*s))
	}
	return NodeOf(&(*s)[i])
}

func (s *Seq[T]) PushJSON(raw json.RawMessage) error {
	var v T
	if err := decodeStrict(raw, &v); err != nil {
		return err
	}
	*s = append(*s, v)
	return nil
}

func (s *Seq[T]) Remove(i int) error {
	if i < 0 || i >= len(*s) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndex, i, len(*s))
	}
	*s = slices.Delete(*s, i, i+1)
	return nil
}

func (s Seq[T]) MarshalJSON() ([]byte, error) {
	buf := []byte{'['}
	for i, v := range s {
		if i > 0 {
			buf = append(buf, ',')
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return append(buf, ']'), nil
}

func (s *Seq[T]) UnmarshalJSON(b []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make(Seq[T], 0, len(items))
	for i, raw := range items {
		var v T
		if i < len(*s) {
			v = (*s)[i]
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		out = append(out, v)
	}
	*s = out
	return nil
}

// Hidden holds server-only state. Commands can never reach through it and
// struct fields of this type are tagged `json:"-"` so snapshots skip them.
type Hidden[T any] struct {
	V T
}

func (*Hidden[T]) Kind() Kind { return KindHidden }

// decodeStrict decodes exactly one JSON value into v, rejecting null,
// unknown struct fields and trailing data.
func decodeStrict(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: empty or null", ErrValue)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValue, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data", ErrValue)
	}
	return nil
}
