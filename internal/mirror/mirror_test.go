package mirror

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (*testPoint) Kind() Kind { return KindStruct }

func (p *testPoint) Child(name string) (any, bool) {
	switch name {
	case "x":
		return &p.X, true
	case "y":
		return &p.Y, true
	}
	return nil, false
}

func (*testPoint) Method(string) (Method, bool) { return Method{}, false }

type testRoot struct {
	Secret Hidden[int]    `json:"-"`
	Name   string         `json:"name"`
	Flag   bool           `json:"flag"`
	Cells  Seq[uint8]     `json:"cells"`
	Points Seq[testPoint] `json:"points"`
	Total  int            `json:"total"`
}

func (*testRoot) Kind() Kind { return KindStruct }

func (r *testRoot) Child(name string) (any, bool) {
	switch name {
	case "secret":
		return &r.Secret, true
	case "name":
		return &r.Name, true
	case "flag":
		return &r.Flag, true
	case "cells":
		return &r.Cells, true
	case "points":
		return &r.Points, true
	case "total":
		return &r.Total, true
	}
	return nil, false
}

func (r *testRoot) Method(name string) (Method, bool) {
	switch name {
	case "add":
		return Method{Arity: 2, Fn: func(_ *Context, args []json.RawMessage) error {
			var a, b int
			if err := DecodeArgs(args, &a, &b); err != nil {
				return err
			}
			r.Total += a + b
			return nil
		}}, true
	case "bump":
		return Method{Arity: 0, Fn: func(ctx *Context, _ []json.RawMessage) error {
			if err := ctx.Command(At("total").Set(r.Total + 1)); err != nil {
				return err
			}
			return ctx.Command(At("cells").Push(9))
		}}, true
	case "crash":
		return Method{Arity: 0, Fn: func(ctx *Context, _ []json.RawMessage) error {
			if err := ctx.Command(At("total").Set(99)); err != nil {
				return err
			}
			_ = r.Cells[len(r.Cells)]
			return nil
		}}, true
	case "overflow":
		return Method{Arity: 0, Fn: func(ctx *Context, _ []json.RawMessage) error {
			r.Points[0].X = 7
			if err := ctx.Command(At("total").Set(r.Total + 1)); err != nil {
				return err
			}
			return ctx.Command(At("cells").Push(300))
		}}, true
	}
	return Method{}, false
}

type hiddenItem struct {
	N   int            `json:"n"`
	Tag Hidden[string] `json:"-"`
}

func newRoot() *testRoot {
	return &testRoot{
		Secret: Hidden[int]{V: 42},
		Name:   "a/b",
		Cells:  Seq[uint8]{0, 1, 2},
		Points: Seq[testPoint]{{X: 1, Y: 2}},
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Command
	}{
		{
			name: "set scalar",
			text: "cells/1/set:7",
			want: Command{Path: []string{"cells", "1"}, Op: OpSet, Value: json.RawMessage("7")},
		},
		{
			name: "set string containing slash",
			text: `name/set:"x/y/set:1"`,
			want: Command{Path: []string{"name"}, Op: OpSet, Value: json.RawMessage(`"x/y/set:1"`)},
		},
		{
			name: "push object",
			text: `points/push:{"x":3,"y":4}`,
			want: Command{Path: []string{"points"}, Op: OpPush, Value: json.RawMessage(`{"x":3,"y":4}`)},
		},
		{
			name: "remove",
			text: "points/remove:0",
			want: Command{Path: []string{"points"}, Op: OpRemove, Index: 0},
		},
		{
			name: "root call without args",
			text: "call:bump:",
			want: Command{Op: OpCall, Method: "bump"},
		},
		{
			name: "call with args",
			text: `call:add:1,"two"`,
			want: Command{Op: OpCall, Method: "add", Args: []json.RawMessage{json.RawMessage("1"), json.RawMessage(`"two"`)}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.text)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, text := range []string{
		"",
		"cells",
		"cells//set:1",
		"cells/set:",
		"cells/set:{nope",
		"cells/remove:-1",
		"cells/remove:x",
		"call:",
		"call:add:1,,2",
		"cells/set:1\n",
	} {
		_, err := Parse(text)
		assert.ErrorIs(t, err, ErrMalformed, "text %q", text)
	}
}

func TestCommandString_RoundTrips(t *testing.T) {
	for _, text := range []string{
		"cells/1/set:7",
		`points/push:{"x":3,"y":4}`,
		"points/remove:2",
		`call:add:1,2`,
		"call:bump:",
	} {
		cmd, err := Parse(text)
		require.NoError(t, err)
		assert.Equal(t, text, cmd.String())
	}
}

func TestPathBuilders(t *testing.T) {
	p := At("games", 2)
	assert.Equal(t, "games/2/ko/set:true", p.At("ko").Set(true))
	assert.Equal(t, `games/2/garbage/push:{"x":1,"y":0}`, p.At("garbage").Push(testPoint{X: 1}))
	assert.Equal(t, "games/2/garbage/remove:0", p.At("garbage").Remove(0))
	assert.Equal(t, "games/2/call:clear:7", p.Call("clear", 7))
	assert.Equal(t, "call:server_update:", At().Call("server_update"))
	// the parent path is not modified by At
	assert.Equal(t, Path{"games", "2"}, p)
}

func TestExecute_Operations(t *testing.T) {
	r := newRoot()

	_, err := Execute(r, "cells/1/set:7")
	require.NoError(t, err)
	_, err = Execute(r, `points/push:{"x":3,"y":4}`)
	require.NoError(t, err)
	_, err = Execute(r, "points/0/y/set:9")
	require.NoError(t, err)
	_, err = Execute(r, "points/remove:0")
	require.NoError(t, err)
	_, err = Execute(r, "flag/set:true")
	require.NoError(t, err)
	_, err = Execute(r, "call:add:2,3")
	require.NoError(t, err)

	assert.Equal(t, Seq[uint8]{0, 7, 2}, r.Cells)
	assert.Equal(t, Seq[testPoint]{{X: 3, Y: 4}}, r.Points)
	assert.True(t, r.Flag)
	assert.Equal(t, 5, r.Total)
}

func TestExecute_MethodEmitsCommands(t *testing.T) {
	r := newRoot()
	emitted, err := Execute(r, "call:bump:")
	require.NoError(t, err)

	assert.Equal(t, []string{"total/set:1", "cells/push:9"}, emitted)
	assert.Equal(t, 1, r.Total)
	assert.Equal(t, Seq[uint8]{0, 1, 2, 9}, r.Cells)
}

func TestExecute_ErrorsLeaveTreeUntouched(t *testing.T) {
	cases := []struct {
		name string
		text string
		want error
	}{
		{"unknown field", "nope/set:1", ErrUnknownField},
		{"index out of range", "cells/3/set:1", ErrIndex},
		{"non numeric index", "cells/x/set:1", ErrIndex},
		{"push on scalar", "total/push:1", ErrKind},
		{"set on sequence", "cells/set:1", ErrKind},
		{"descend into scalar", "total/x/set:1", ErrKind},
		{"value too large for cell", "cells/0/set:300", ErrValue},
		{"wrong scalar type", `flag/set:"yes"`, ErrValue},
		{"null value", "total/set:null", ErrValue},
		{"unknown struct field in push", `points/push:{"x":1,"z":2}`, ErrValue},
		{"remove out of range", "points/remove:5", ErrIndex},
		{"unknown method", "call:explode:", ErrUnknownMethod},
		{"wrong arity", "call:add:1", ErrArity},
		{"bad argument", `call:add:1,"x"`, ErrValue},
		{"call on sequence", "cells/call:add:1,2", ErrKind},
		{"hidden field", "secret/set:1", ErrHidden},
		{"malformed", "cells/1", ErrMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRoot()
			before, err := Snapshot(r)
			require.NoError(t, err)

			_, err = Execute(r, tc.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "want %v, got %v", tc.want, err)

			var merr *Error
			assert.True(t, errors.As(err, &merr))

			after, err := Snapshot(r)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, 42, r.Secret.V)
		})
	}
}

func TestExecute_FailedCallIsRolledBack(t *testing.T) {
	r := newRoot()
	before, err := Snapshot(r)
	require.NoError(t, err)

	emitted, err := Execute(r, "call:overflow:")
	require.ErrorIs(t, err, ErrValue)
	assert.Nil(t, emitted)

	after, err := Snapshot(r)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 0, r.Total)
	assert.Equal(t, 1, r.Points[0].X)
	assert.Equal(t, 42, r.Secret.V)
}

func TestExecute_PanickingCallBecomesError(t *testing.T) {
	r := newRoot()
	var emitted []string
	var err error
	require.NotPanics(t, func() { emitted, err = Execute(r, "call:crash:") })
	assert.ErrorIs(t, err, ErrMethodPanic)
	assert.Nil(t, emitted)
	assert.Equal(t, 0, r.Total)
}

func TestRestore_KeepsHiddenStateOfExistingElements(t *testing.T) {
	type holder struct {
		Items Seq[hiddenItem] `json:"items"`
	}
	h := holder{Items: Seq[hiddenItem]{{N: 1, Tag: Hidden[string]{V: "kept"}}}}
	require.NoError(t, json.Unmarshal([]byte(`{"items":[{"n":5},{"n":6}]}`), &h))

	require.Len(t, h.Items, 2)
	assert.Equal(t, 5, h.Items[0].N)
	assert.Equal(t, "kept", h.Items[0].Tag.V)
	assert.Empty(t, h.Items[1].Tag.V)
}

func TestSnapshot_RoundTripAndHiddenExcluded(t *testing.T) {
	r := newRoot()
	snap, err := Snapshot(r)
	require.NoError(t, err)
	assert.NotContains(t, snap, "42")
	assert.Contains(t, snap, `"cells":[0,1,2]`)

	var restored testRoot
	require.NoError(t, Restore(snap, &restored))
	again, err := Snapshot(&restored)
	require.NoError(t, err)
	assert.Equal(t, snap, again)
	assert.Zero(t, restored.Secret.V)
}

func TestReplicaFollowsCommandStream(t *testing.T) {
	server := newRoot()
	snap, err := Snapshot(server)
	require.NoError(t, err)

	replica := &testRoot{}
	require.NoError(t, Restore(snap, replica))

	stream := []string{"cells/0/set:5", `points/push:{"x":8,"y":8}`, "call:add:1,1", "points/remove:0"}
	for _, text := range stream {
		_, err := Execute(server, text)
		require.NoError(t, err)
		_, err = Execute(replica, text)
		require.NoError(t, err)
	}

	a, _ := Snapshot(server)
	b, _ := Snapshot(replica)
	assert.Equal(t, a, b)
}
