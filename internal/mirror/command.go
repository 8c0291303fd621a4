package mirror

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Op uint8

const (
	OpSet Op = iota + 1
	OpPush
	OpRemove
	OpCall
)

var ops = []Op{OpSet, OpPush, OpRemove, OpCall}

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpPush:
		return "push"
	case OpRemove:
		return "remove"
	case OpCall:
		return "call"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Command is one parsed wire command: a path into the tree and the operation
// to perform on the node it ends at.
type Command struct {
	Path   []string
	Op     Op
	Value  json.RawMessage // set, push
	Index  int             // remove
	Method string          // call
	Args   []json.RawMessage
}

// Parse reads the text form `seg/seg/op:value`. The operation segment is
// recognised by its keyword prefix, so values may contain slashes.
func Parse(text string) (Command, error) {
	if strings.ContainsAny(text, "\r\n") {
		return Command{}, fmt.Errorf("%w: command spans lines", ErrMalformed)
	}

	var cmd Command
	rest := text
	for {
		if op, body, ok := cutOp(rest); ok {
			if err := cmd.parseOp(op, body); err != nil {
				return Command{}, err
			}
			return cmd, nil
		}
		seg, tail, found := strings.Cut(rest, "/")
		if !found {
			return Command{}, fmt.Errorf("%w: no operation in %q", ErrMalformed, text)
		}
		if seg == "" {
			return Command{}, fmt.Errorf("%w: empty path segment in %q", ErrMalformed, text)
		}
		cmd.Path = append(cmd.Path, seg)
		rest = tail
	}
}

func cutOp(s string) (Op, string, bool) {
	for _, op := range ops {
		if body, ok := strings.CutPrefix(s, op.String()+":"); ok {
			return op, body, true
		}
	}
	return 0, "", false
}

func (c *Command) parseOp(op Op, body string) error {
	c.Op = op
	switch op {
	case OpSet, OpPush:
		if !json.Valid([]byte(body)) {
			return fmt.Errorf("%w: %s value %q is not JSON", ErrMalformed, op, body)
		}
		c.Value = json.RawMessage(body)

	case OpRemove:
		i, err := strconv.Atoi(body)
		if err != nil || i < 0 {
			return fmt.Errorf("%w: remove index %q", ErrMalformed, body)
		}
		c.Index = i

	case OpCall:
		method, args, _ := strings.Cut(body, ":")
		if method == "" {
			return fmt.Errorf("%w: call without method", ErrMalformed)
		}
		c.Method = method
		if strings.TrimSpace(args) == "" {
			return nil
		}
		if err := json.Unmarshal([]byte("["+args+"]"), &c.Args); err != nil {
			return fmt.Errorf("%w: call arguments %q", ErrMalformed, args)
		}
	}
	return nil
}

// String renders the canonical text form.
func (c Command) String() string {
	var b strings.Builder
	for _, seg := range c.Path {
		b.WriteString(seg)
		b.WriteByte('/')
	}
	b.WriteString(c.Op.String())
	b.WriteByte(':')
	switch c.Op {
	case OpSet, OpPush:
		b.Write(c.Value)
	case OpRemove:
		b.WriteString(strconv.Itoa(c.Index))
	case OpCall:
		b.WriteString(c.Method)
		b.WriteByte(':')
		for i, a := range c.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.Write(a)
		}
	}
	return b.String()
}

// Path builds command text for a location in the tree.
//
//	mirror.At("games", 2, "garbage").Push(line)  // games/2/garbage/push:{...}
type Path []string

func At(segs ...any) Path {
	return Path(nil).At(segs...)
}

func (p Path) At(segs ...any) Path {
	out := make(Path, len(p), len(p)+len(segs))
	copy(out, p)
	for _, s := range segs {
		out = append(out, fmt.Sprint(s))
	}
	return out
}

func (p Path) prefix() string {
	if len(p) == 0 {
		return ""
	}
	return strings.Join(p, "/") + "/"
}

func (p Path) Set(v any) string {
	return p.prefix() + "set:" + mustJSON(v)
}

func (p Path) Push(v any) string {
	return p.prefix() + "push:" + mustJSON(v)
}

func (p Path) Remove(i int) string {
	return p.prefix() + "remove:" + strconv.Itoa(i)
}

func (p Path) Call(method string, args ...any) string {
	enc := make([]string, len(args))
	for i, a := range args {
		enc[i] = mustJSON(a)
	}
	return p.prefix() + "call:" + method + ":" + strings.Join(enc, ",")
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mirror: cannot encode %T: %v", v, err))
	}
	return string(b)
}
