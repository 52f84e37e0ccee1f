// Package diagnostics classifies the fatal errors of a binding and prints
// them in a consistent way.
package diagnostics

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/tinygo-org/heapscan/binding"
	"github.com/tinygo-org/heapscan/config"
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/layout"
	"github.com/tinygo-org/heapscan/scan"
)

// A single diagnostic.
type Diagnostic struct {
	Msg string

	// Hint is an optional second line suggesting a fix.
	Hint string
}

// One or multiple errors of a particular component of the binding.
type ComponentDiagnostic struct {
	Component   string // "config", "layout", "scan", ... or empty
	Diagnostics []Diagnostic
}

// Diagnostics of a whole run. This can include errors belonging to multiple
// components, or just a single one.
type ProgramDiagnostic []ComponentDiagnostic

// CreateDiagnostics reads the underlying errors in the error object and
// creates a set of diagnostics grouped by component and sorted by component
// name.
func CreateDiagnostics(err error) ProgramDiagnostic {
	if err == nil {
		return nil
	}
	var prog ProgramDiagnostic
	index := make(map[string]int)
	var add func(err error)
	add = func(err error) {
		// Joined errors (config validation) are reported one by one.
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, err := range joined.Unwrap() {
				add(err)
			}
			return
		}
		component, diags := createDiagnostics(err)
		i, ok := index[component]
		if !ok {
			i = len(prog)
			index[component] = i
			prog = append(prog, ComponentDiagnostic{Component: component})
		}
		prog[i].Diagnostics = append(prog[i].Diagnostics, diags...)
	}
	add(err)

	// Errors without a component go last.
	sort.SliceStable(prog, func(i, j int) bool {
		ci, cj := prog[i].Component, prog[j].Component
		if ci == "" || cj == "" {
			return cj == "" && ci != ""
		}
		return ci < cj
	})
	return prog
}

// Extract diagnostics from the given error and return the component they
// belong to.
func createDiagnostics(err error) (string, []Diagnostic) {
	var (
		mismatch  *layout.MismatchError
		invariant *scan.InvariantError
		typeErr   *yaml.TypeError
	)
	switch {
	case errors.As(err, &mismatch):
		return "layout", []Diagnostic{{
			Msg:  err.Error(),
			Hint: "the host was built with a different class header layout; rebuild the binding against it",
		}}
	case errors.As(err, &invariant):
		diag := Diagnostic{Msg: err.Error()}
		var kind *layout.KindError
		if errors.As(invariant.Err, &kind) {
			diag.Hint = fmt.Sprintf("klass %v is corrupt or not a klass", kind.Klass)
		} else {
			diag.Hint = "the heap is corrupt; scanning cannot continue"
		}
		return "scan", []Diagnostic{diag}
	case errors.As(err, &typeErr):
		var diags []Diagnostic
		for _, msg := range typeErr.Errors {
			diags = append(diags, Diagnostic{Msg: msg})
		}
		return "config", diags
	case errors.Is(err, config.ErrUnknownOption):
		return "config", []Diagnostic{{
			Msg:  err.Error(),
			Hint: "known options: " + strings.Join(sortedNames(), ", "),
		}}
	case errors.Is(err, edge.ErrHeapTooLarge):
		return "edge", []Diagnostic{{
			Msg:  err.Error(),
			Hint: "disable compressed_oops or reduce heap_size",
		}}
	case errors.Is(err, binding.ErrNarrowOopMismatch):
		return "binding", []Diagnostic{{Msg: err.Error()}}
	default:
		return "", []Diagnostic{{Msg: err.Error()}}
	}
}

func sortedNames() []string {
	names := config.Names()
	sort.Strings(names)
	return names
}

// Write program diagnostics to the given writer.
func (progDiag ProgramDiagnostic) WriteTo(w io.Writer) {
	for _, compDiag := range progDiag {
		compDiag.WriteTo(w)
	}
}

// Write component diagnostics to the given writer.
func (compDiag ComponentDiagnostic) WriteTo(w io.Writer) {
	if compDiag.Component != "" {
		fmt.Fprintln(w, "#", compDiag.Component)
	}
	for _, diag := range compDiag.Diagnostics {
		diag.WriteTo(w)
	}
}

// Write this diagnostic to the given writer.
func (diag Diagnostic) WriteTo(w io.Writer) {
	fmt.Fprintln(w, diag.Msg)
	if diag.Hint != "" {
		fmt.Fprintf(w, "\t(%s)\n", diag.Hint)
	}
}

// Recover turns a panic carrying an error, such as a *scan.InvariantError,
// into an error stored in *errp. Other panics continue. It must be called
// directly by defer.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if err, ok := r.(error); ok {
		*errp = err
		return
	}
	panic(r)
}
