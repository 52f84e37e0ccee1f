// Package config holds the binding's options.
//
// Options are layered: built-in defaults, then HEAPSCAN_* environment
// variables, then a YAML file, then a bulk option string of name=value
// pairs. Each layer overrides the ones before it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"

	"github.com/tinygo-org/heapscan/mem"
)

// ErrUnknownOption is returned for option names that do not exist.
var ErrUnknownOption = errors.New("unknown option")

// Options configures a binding.
type Options struct {
	CompressedOops bool              `yaml:"compressed_oops"`
	HeapStart      uint64            `yaml:"heap_start"`
	HeapSize       bytesize.ByteSize `yaml:"heap_size"`

	// Threads is the number of GC worker threads.
	Threads int `yaml:"threads"`

	// WorkPacketCapacity is the number of slots per tracing packet.
	WorkPacketCapacity int `yaml:"work_packet_capacity"`
	// RootsBufferCapacity is the capacity of buffers handed to the host.
	RootsBufferCapacity int `yaml:"roots_buffer_capacity"`

	// NoReferenceTypes treats java.lang.ref.Reference objects as ordinary
	// objects.
	NoReferenceTypes bool `yaml:"no_reference_types"`
	// SingleThreadMutatorScanning scans all stacks in one packet instead of
	// one packet per mutator. With ScanMutatorsInSafepoint also set, the VM
	// thread is scanned by that packet too.
	SingleThreadMutatorScanning bool `yaml:"single_thread_mutator_scanning"`
	ScanMutatorsInSafepoint     bool `yaml:"scan_mutators_in_safepoint"`
	UseCodeCacheTable           bool `yaml:"use_code_cache_table"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in defaults.
func Default() Options {
	return Options{
		HeapStart:           0x4000_0000,
		HeapSize:            64 * bytesize.MB,
		Threads:             4,
		WorkPacketCapacity:  4096,
		RootsBufferCapacity: 4096,
		UseCodeCacheTable:   true,
		LogLevel:            "info",
	}
}

// HeapRange returns the start and end of the heap.
func (o *Options) HeapRange() (start, end mem.Address) {
	start = mem.Address(o.HeapStart)
	return start, start.Add(uintptr(o.HeapSize))
}

// Validate checks that the options can be used.
func (o *Options) Validate() error {
	var errs []error
	if o.HeapStart == 0 || o.HeapStart%mem.BytesInPage != 0 {
		errs = append(errs, fmt.Errorf("heap_start %#x is not a non-zero page address", o.HeapStart))
	}
	if o.HeapSize < bytesize.ByteSize(mem.BytesInPage) {
		errs = append(errs, fmt.Errorf("heap_size %v is too small", o.HeapSize))
	}
	if o.Threads <= 0 {
		errs = append(errs, fmt.Errorf("threads must be positive, got %d", o.Threads))
	}
	if o.WorkPacketCapacity <= 0 {
		errs = append(errs, fmt.Errorf("work_packet_capacity must be positive, got %d", o.WorkPacketCapacity))
	}
	if o.RootsBufferCapacity <= 0 {
		errs = append(errs, fmt.Errorf("roots_buffer_capacity must be positive, got %d", o.RootsBufferCapacity))
	}
	if _, err := o.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (o *Options) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(o.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// setters maps option names to parsers.
var setters = map[string]func(o *Options, value string) error{
	"compressed_oops": func(o *Options, v string) error { return parseBool(v, &o.CompressedOops) },
	"heap_start": func(o *Options, v string) (err error) {
		o.HeapStart, err = strconv.ParseUint(v, 0, 64)
		return err
	},
	"heap_size":             func(o *Options, v string) error { return o.HeapSize.Set(v) },
	"threads":               func(o *Options, v string) error { return parseInt(v, &o.Threads) },
	"work_packet_capacity":  func(o *Options, v string) error { return parseInt(v, &o.WorkPacketCapacity) },
	"roots_buffer_capacity": func(o *Options, v string) error { return parseInt(v, &o.RootsBufferCapacity) },
	"no_reference_types":    func(o *Options, v string) error { return parseBool(v, &o.NoReferenceTypes) },
	"scan_mutators_in_safepoint": func(o *Options, v string) error {
		return parseBool(v, &o.ScanMutatorsInSafepoint)
	},
	"single_thread_mutator_scanning": func(o *Options, v string) error {
		return parseBool(v, &o.SingleThreadMutatorScanning)
	},
	"use_code_cache_table": func(o *Options, v string) error { return parseBool(v, &o.UseCodeCacheTable) },
	"log_level": func(o *Options, v string) error {
		o.LogLevel = v
		return nil
	},
}

// Names returns the option names in no particular order.
func Names() []string {
	names := make([]string, 0, len(setters))
	for name := range setters {
		names = append(names, name)
	}
	return names
}

// Process sets the option name to value.
func (o *Options) Process(name, value string) error {
	set, ok := setters[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	if err := set(o, value); err != nil {
		return fmt.Errorf("option %s=%q: %w", name, value, err)
	}
	return nil
}

// ProcessBulk applies a string of whitespace-separated name=value pairs.
// Values may be quoted.
func (o *Options) ProcessBulk(options string) error {
	fields, err := shlex.Split(options)
	if err != nil {
		return fmt.Errorf("parsing options: %w", err)
	}
	for _, f := range fields {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			return fmt.Errorf("option %q is not of the form name=value", f)
		}
		if err := o.Process(name, value); err != nil {
			return err
		}
	}
	return nil
}

const envPrefix = "HEAPSCAN_"

// LoadEnv applies HEAPSCAN_<NAME> variables, where NAME is an upper-case
// option name.
func (o *Options) LoadEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for name := range setters {
		if v, ok := lookup(envPrefix + strings.ToUpper(name)); ok {
			if err := o.Process(name, v); err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, strings.ToUpper(name), err)
			}
		}
	}
	return nil
}

// LoadYAML applies the options in a YAML document. Unknown keys are errors.
func (o *Options) LoadYAML(data []byte) error {
	if err := yaml.UnmarshalStrict(data, o); err != nil {
		return fmt.Errorf("parsing options: %w", err)
	}
	return nil
}

// LoadFile applies the options in a YAML file.
func (o *Options) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := o.LoadYAML(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Load builds options from all layers. file and bulk may be empty.
func Load(file, bulk string) (Options, error) {
	o := Default()
	if err := o.LoadEnv(nil); err != nil {
		return o, err
	}
	if file != "" {
		if err := o.LoadFile(file); err != nil {
			return o, err
		}
	}
	if bulk != "" {
		if err := o.ProcessBulk(bulk); err != nil {
			return o, err
		}
	}
	return o, o.Validate()
}

func parseBool(s string, dst *bool) error {
	switch strings.ToLower(s) {
	case "true", "yes", "on", "1":
		*dst = true
	case "false", "no", "off", "0":
		*dst = false
	default:
		return fmt.Errorf("invalid boolean %q", s)
	}
	return nil
}

func parseInt(s string, dst *int) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}
