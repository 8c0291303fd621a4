package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformed     = errors.New("malformed command")
	ErrUnknownField  = errors.New("unknown field")
	ErrIndex         = errors.New("index out of range")
	ErrKind          = errors.New("operation does not fit node kind")
	ErrValue         = errors.New("invalid value")
	ErrUnknownMethod = errors.New("unknown method")
	ErrArity         = errors.New("wrong number of arguments")
	ErrHidden        = errors.New("hidden node")
	ErrTooDeep       = errors.New("remote method nesting too deep")
	ErrMethodPanic   = errors.New("remote method panicked")
)

// Error reports where in the tree a command failed.
type Error struct {
	Command string
	Path    []string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("command %q at /%s: %v", e.Command, strings.Join(e.Path, "/"), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

const maxDepth = 8

// Context is what a remote method gets besides its arguments: the ability to
// apply further commands to the root it is running under. Everything applied
// through it is recorded so the server can broadcast it.
type Context struct {
	root    Node
	emitted []string
	depth   int
}

func (c *Context) Command(text string) error {
	if c.depth >= maxDepth {
		return ErrTooDeep
	}
	cmd, err := Parse(text)
	if err != nil {
		return err
	}

	slot := len(c.emitted)
	c.emitted = append(c.emitted, text)
	c.depth++
	err = apply(c.root, cmd, c)
	c.depth--
	if err != nil {
		c.emitted = c.emitted[:slot]
		return err
	}
	return nil
}

// Execute parses text and applies it to root. It returns the commands that
// remote methods emitted while it ran, in the order they were applied.
func Execute(root Node, text string) ([]string, error) {
	cmd, err := Parse(text)
	if err != nil {
		return nil, &Error{Command: text, Err: err}
	}
	if cmd.Op != OpCall {
		// a single operation checks its value before it touches the tree
		if err := apply(root, cmd, &Context{root: root}); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// a call may apply several commands before one fails; put the replicated
	// value back so nothing half done stays behind
	before, err := Snapshot(root)
	if err != nil {
		return nil, &Error{Command: text, Err: fmt.Errorf("%w: %v", ErrValue, err)}
	}
	ctx := &Context{root: root}
	if err := applyCall(root, cmd, ctx); err != nil {
		if rerr := Restore(before, root); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}
	return ctx.emitted, nil
}

// applyCall runs a top level call, turning a panic inside a method into an
// error the caller can roll back from.
func applyCall(root Node, cmd Command, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Command: cmd.String(), Path: cmd.Path, Err: fmt.Errorf("%w: %v", ErrMethodPanic, r)}
		}
	}()
	return apply(root, cmd, ctx)
}

func apply(root Node, cmd Command, ctx *Context) error {
	node := root
	for i, seg := range cmd.Path {
		next, err := child(node, seg)
		if err != nil {
			return &Error{Command: cmd.String(), Path: cmd.Path[:i+1], Err: err}
		}
		node = next
	}
	if err := perform(node, cmd, ctx); err != nil {
		return &Error{Command: cmd.String(), Path: cmd.Path, Err: err}
	}
	return nil
}

func child(node Node, seg string) (Node, error) {
	var next Node
	switch node.Kind() {
	case KindStruct:
		ptr, ok := node.(Struct).Child(seg)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, seg)
		}
		n, err := NodeOf(ptr)
		if err != nil {
			return nil, err
		}
		next = n

	case KindSequence:
		i, err := strconv.Atoi(seg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an index", ErrIndex, seg)
		}
		n, err := node.(Sequence).Index(i)
		if err != nil {
			return nil, err
		}
		next = n

	case KindHidden:
		return nil, ErrHidden

	default:
		return nil, fmt.Errorf("%w: cannot descend into %s", ErrKind, node.Kind())
	}

	if next.Kind() == KindHidden {
		return nil, ErrHidden
	}
	return next, nil
}

func perform(node Node, cmd Command, ctx *Context) error {
	switch cmd.Op {
	case OpSet:
		if node.Kind() != KindScalar {
			return fmt.Errorf("%w: set on %s", ErrKind, node.Kind())
		}
		return node.(Scalar).SetJSON(cmd.Value)

	case OpPush:
		if node.Kind() != KindSequence {
			return fmt.Errorf("%w: push on %s", ErrKind, node.Kind())
		}
		return node.(Sequence).PushJSON(cmd.Value)

	case OpRemove:
		if node.Kind() != KindSequence {
			return fmt.Errorf("%w: remove on %s", ErrKind, node.Kind())
		}
		return node.(Sequence).Remove(cmd.Index)

	case OpCall:
		if node.Kind() != KindStruct {
			return fmt.Errorf("%w: call on %s", ErrKind, node.Kind())
		}
		m, ok := node.(Struct).Method(cmd.Method)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMethod, cmd.Method)
		}
		if len(cmd.Args) != m.Arity {
			return fmt.Errorf("%w: %s wants %d, got %d", ErrArity, cmd.Method, m.Arity, len(cmd.Args))
		}
		return m.Fn(ctx, cmd.Args)

	default:
		return fmt.Errorf("%w: unknown op", ErrMalformed)
	}
}

// DecodeArgs unmarshals call arguments into dst, in order.
func DecodeArgs(args []json.RawMessage, dst ...any) error {
	if len(args) != len(dst) {
		return fmt.Errorf("%w: want %d, got %d", ErrArity, len(dst), len(args))
	}
	for i, raw := range args {
		if err := decodeStrict(raw, dst[i]); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// Snapshot encodes the full replicated value of root.
func Snapshot(root Node) (string, error) {
	b, err := json.Marshal(root)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Restore decodes a snapshot produced by Snapshot into root. Sequence
// elements that already exist are decoded in place, so hidden state inside
// them survives.
func Restore(snapshot string, root Node) error {
	if err := json.Unmarshal([]byte(snapshot), root); err != nil {
		return fmt.Errorf("%w: snapshot: %v", ErrValue, err)
	}
	return nil
}
