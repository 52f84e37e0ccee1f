package diagnostics

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinygo-org/heapscan/config"
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/layout"
	"github.com/tinygo-org/heapscan/scan"
)

func TestCreateDiagnostics(t *testing.T) {
	assert.Nil(t, CreateDiagnostics(nil))

	tests := []struct {
		name      string
		err       error
		component string
		hint      string
	}{
		{"mismatch", fmt.Errorf("attach: %w", &layout.MismatchError{Binding: 1, Host: 2}), "layout", "rebuild"},
		{"kind", &scan.InvariantError{Object: 0x1000, Err: &layout.KindError{Klass: 0x2000, ID: 99}}, "scan", "0x2000"},
		{"invariant", &scan.InvariantError{Object: 0x1000, Err: errors.New("reference type none")}, "scan", "corrupt"},
		{"wrapped invariant", fmt.Errorf("cycle 3: %w", &scan.InvariantError{Object: 0x1000, Err: errors.New("reference type none")}), "scan", "corrupt"},
		{"unknown option", fmt.Errorf("%w: %q", config.ErrUnknownOption, "bogus"), "config", "threads"},
		{"heap", fmt.Errorf("compressed oops: %w", edge.ErrHeapTooLarge), "edge", "heap_size"},
		{"other", errors.New("disk on fire"), "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prog := CreateDiagnostics(tc.err)
			require.Len(t, prog, 1)
			assert.Equal(t, tc.component, prog[0].Component)
			require.Len(t, prog[0].Diagnostics, 1)
			assert.Equal(t, tc.err.Error(), prog[0].Diagnostics[0].Msg)
			assert.Contains(t, prog[0].Diagnostics[0].Hint, tc.hint)
		})
	}
}

func TestYAMLErrors(t *testing.T) {
	o := config.Default()
	err := o.LoadYAML([]byte("threads: many\nbogus: 1\n"))
	require.Error(t, err)
	prog := CreateDiagnostics(err)
	require.Len(t, prog, 1)
	assert.Equal(t, "config", prog[0].Component)
	assert.Len(t, prog[0].Diagnostics, 2)
}

func TestJoinedErrors(t *testing.T) {
	o := config.Default()
	o.Threads = 0
	o.LogLevel = "chatty"
	err := errors.Join(o.Validate(), edge.ErrHeapTooLarge, &layout.MismatchError{})

	prog := CreateDiagnostics(err)
	var components []string
	for _, c := range prog {
		components = append(components, c.Component)
	}
	assert.Equal(t, []string{"edge", "layout", ""}, components)
	assert.Len(t, prog[2].Diagnostics, 2)

	var buf bytes.Buffer
	prog.WriteTo(&buf)
	out := buf.String()
	assert.Contains(t, out, "# edge\n")
	assert.Contains(t, out, "# layout\n")
	assert.Contains(t, out, "threads must be positive")
	assert.Contains(t, out, "\t(disable compressed_oops")
}

func TestRecover(t *testing.T) {
	run := func(v any) (err error) {
		defer Recover(&err)
		if v != nil {
			panic(v)
		}
		return nil
	}
	assert.NoError(t, run(nil))

	inv := &scan.InvariantError{Object: 0x10, Err: errors.New("bad")}
	err := run(inv)
	var got *scan.InvariantError
	require.ErrorAs(t, err, &got)
	assert.Same(t, inv, got)

	assert.PanicsWithValue(t, "not an error", func() { _ = run("not an error") })
}
