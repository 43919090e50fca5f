package engine

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wippyai/flow-bridge/errors"
)

// Mode selects how wazero executes the guest.
type Mode int

const (
	// ModeCompiled compiles the guest to native code ahead of execution.
	ModeCompiled Mode = iota
	// ModeInterpreter interprets the guest. Startup is faster, calls are slower.
	ModeInterpreter
)

func (m Mode) String() string {
	switch m {
	case ModeCompiled:
		return "compiled"
	case ModeInterpreter:
		return "interpreter"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "compiled" or "interpreter".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compiled", "compiler":
		return ModeCompiled, nil
	case "interpreter", "interp":
		return ModeInterpreter, nil
	default:
		return 0, errors.InvalidInput(errors.PhaseEngine, fmt.Sprintf("unknown engine mode %q", s))
	}
}

// Config holds configuration for loading libflow.wasm.
type Config struct {
	// Stdout and Stderr receive the guest's output. nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Path is the libflow.wasm file to load. Ignored when Wasm is set.
	Path string

	// FSRoot is the host directory mounted at "/" in the guest. Module
	// paths under it are translated to guest paths. Defaults to "/".
	FSRoot string

	// Wasm is the guest binary.
	Wasm []byte

	Mode Mode

	// MemoryLimitPages sets the maximum guest memory in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// Validate reports configuration that cannot be used.
func (c *Config) Validate() error {
	if c.Path == "" && len(c.Wasm) == 0 {
		return errors.InvalidInput(errors.PhaseEngine, "either Path or Wasm must be set")
	}
	if c.Mode != ModeCompiled && c.Mode != ModeInterpreter {
		return errors.InvalidInput(errors.PhaseEngine, fmt.Sprintf("unknown engine mode %d", int(c.Mode)))
	}
	if c.MemoryLimitPages > 65536 {
		return errors.InvalidInput(errors.PhaseEngine,
			fmt.Sprintf("memory limit %d pages exceeds the wasm32 maximum of 65536", c.MemoryLimitPages))
	}
	if c.FSRoot != "" {
		fi, err := os.Stat(c.FSRoot)
		if err != nil {
			return errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "filesystem root")
		}
		if !fi.IsDir() {
			return errors.InvalidInput(errors.PhaseEngine, fmt.Sprintf("filesystem root %q is not a directory", c.FSRoot))
		}
	}
	return nil
}

// withDefaults returns a copy with unset fields filled in.
func (c Config) withDefaults() Config {
	if c.FSRoot == "" {
		c.FSRoot = "/"
	}
	return c
}

// wasm returns the guest binary, reading Path if needed.
func (c *Config) wasm() ([]byte, error) {
	if len(c.Wasm) > 0 {
		return c.Wasm, nil
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, errors.New(errors.PhaseEngine, errors.KindNotFound).
			Value(c.Path).
			Cause(err).
			Detail("read %s", c.Path).
			Build()
	}
	return data, nil
}
