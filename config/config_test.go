package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/inhies/go-bytesize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestDefaultsValid(t *testing.T) {
	o := Default()
	require.NoError(t, o.Validate())
	start, end := o.HeapRange()
	assert.Equal(t, uintptr(64<<20), end.Sub(start))
}

func TestProcess(t *testing.T) {
	tests := []struct {
		name, value string
		check       func(t *testing.T, o Options)
	}{
		{"compressed_oops", "yes", func(t *testing.T, o Options) { assert.True(t, o.CompressedOops) }},
		{"use_code_cache_table", "off", func(t *testing.T, o Options) { assert.False(t, o.UseCodeCacheTable) }},
		{"heap_size", "2GB", func(t *testing.T, o Options) { assert.Equal(t, 2*bytesize.GB, o.HeapSize) }},
		{"heap_start", "0x800000000", func(t *testing.T, o Options) { assert.Equal(t, uint64(0x800000000), o.HeapStart) }},
		{"threads", "12", func(t *testing.T, o Options) { assert.Equal(t, 12, o.Threads) }},
		{"single_thread_mutator_scanning", "on", func(t *testing.T, o Options) { assert.True(t, o.SingleThreadMutatorScanning) }},
		{"no_reference_types", "1", func(t *testing.T, o Options) { assert.True(t, o.NoReferenceTypes) }},
		{"log_level", "debug", func(t *testing.T, o Options) { assert.Equal(t, "debug", o.LogLevel) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := Default()
			require.NoError(t, o.Process(tc.name, tc.value))
			tc.check(t, o)
		})
	}
}

func TestProcessErrors(t *testing.T) {
	o := Default()
	err := o.Process("no_such_option", "1")
	assert.True(t, errors.Is(err, ErrUnknownOption))

	assert.Error(t, o.Process("compressed_oops", "maybe"))
	assert.Error(t, o.Process("threads", "many"))
	assert.Error(t, o.Process("heap_size", "12 parsecs"))
	// Failed updates leave the option alone.
	assert.Equal(t, Default(), o)
}

func TestProcessBulk(t *testing.T) {
	o := Default()
	require.NoError(t, o.ProcessBulk(`threads=2 heap_size="512 MB" compressed_oops=true`))
	assert.Equal(t, 2, o.Threads)
	assert.Equal(t, 512*bytesize.MB, o.HeapSize)
	assert.True(t, o.CompressedOops)

	assert.Error(t, o.ProcessBulk("threads"))
	assert.ErrorIs(t, o.ProcessBulk("threads=1 bogus=2"), ErrUnknownOption)
	assert.Error(t, o.ProcessBulk(`threads="1`))
}

func TestLoadEnv(t *testing.T) {
	env := map[string]string{
		"HEAPSCAN_THREADS":            "3",
		"HEAPSCAN_NO_REFERENCE_TYPES": "on",
		"OTHER_THREADS":               "99",
	}
	o := Default()
	require.NoError(t, o.LoadEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, 3, o.Threads)
	assert.True(t, o.NoReferenceTypes)

	env["HEAPSCAN_COMPRESSED_OOPS"] = "perhaps"
	assert.Error(t, o.LoadEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
}

func TestLoadYAML(t *testing.T) {
	o := Default()
	require.NoError(t, o.LoadYAML([]byte(`
compressed_oops: true
heap_start: 0x800000000
heap_size: 8GB
roots_buffer_capacity: 128
`)))
	assert.True(t, o.CompressedOops)
	assert.Equal(t, uint64(0x800000000), o.HeapStart)
	assert.Equal(t, 8*bytesize.GB, o.HeapSize)
	assert.Equal(t, 128, o.RootsBufferCapacity)
	assert.Equal(t, 4096, o.WorkPacketCapacity)

	err := o.LoadYAML([]byte("unknown_key: 1\n"))
	require.Error(t, err)
	var typeErr *yaml.TypeError
	assert.True(t, errors.As(err, &typeErr))
}

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heapscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: 6\nwork_packet_capacity: 64\n"), 0o644))
	t.Setenv("HEAPSCAN_THREADS", "5")
	t.Setenv("HEAPSCAN_WORK_PACKET_CAPACITY", "32")
	t.Setenv("HEAPSCAN_ROOTS_BUFFER_CAPACITY", "16")

	o, err := Load(path, "threads=7")
	require.NoError(t, err)
	assert.Equal(t, 7, o.Threads)
	assert.Equal(t, 64, o.WorkPacketCapacity)
	assert.Equal(t, 16, o.RootsBufferCapacity)
}

func TestValidate(t *testing.T) {
	o := Default()
	o.Threads = 0
	o.HeapStart = 0x1001
	o.LogLevel = "chatty"
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads")
	assert.Contains(t, err.Error(), "heap_start")
	assert.Contains(t, err.Error(), "log_level")
}
