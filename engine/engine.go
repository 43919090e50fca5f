package engine

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/flow-bridge/errors"
)

// guestModuleName is the name libflow is instantiated under.
const guestModuleName = "libflow"

// Open loads libflow.wasm into a new wazero runtime and returns a Library
// over it. The guest is a WASI reactor: its _initialize export runs once
// at instantiation and flow_init is left to the caller.
func Open(ctx context.Context, cfg Config) (*Library, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	wasm, err := cfg.wasm()
	if err != nil {
		return nil, err
	}

	runtimeCfg := wazero.NewRuntimeConfigCompiler()
	if cfg.Mode == ModeInterpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	}
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	lib, err := instantiate(ctx, r, wasm, cfg)
	if err != nil {
		r.Close(ctx)
		return nil, err
	}
	lib.runtime = r

	Logger().Debug("libflow loaded",
		zap.String("mode", cfg.Mode.String()),
		zap.String("fs_root", cfg.FSRoot),
		zap.Int("wasm_bytes", len(wasm)))
	return lib, nil
}

func instantiate(ctx context.Context, r wazero.Runtime, wasm []byte, cfg Config) (*Library, error) {
	if _, err := InstantiateWASIWithAdapter(ctx, r); err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInitialization, err, "instantiate WASI")
	}

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindCompile, err, "compile libflow")
	}
	if err := verifyExports(exportSignatures(compiled.ExportedFunctions())); err != nil {
		return nil, err
	}

	modCfg := wazero.NewModuleConfig().
		WithName(guestModuleName).
		WithFSConfig(wazero.NewFSConfig().WithDirMount(cfg.FSRoot, "/")).
		WithStartFunctions("_initialize")
	if cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(cfg.Stderr)
	}

	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInitialization, err, "instantiate libflow")
	}

	var mem *WazeroMemory
	if m := mod.Memory(); m != nil {
		mem = &WazeroMemory{mem: m}
	}
	if mem == nil {
		return nil, errors.MissingExport("memory")
	}
	return newLibrary(mem, func(name string) guestFunc {
		if fn := mod.ExportedFunction(name); fn != nil {
			return fn
		}
		return nil
	}, cfg.FSRoot)
}

func exportSignatures(defs map[string]api.FunctionDefinition) map[string]signature {
	out := make(map[string]signature, len(defs))
	for name, def := range defs {
		out[name] = signature{params: def.ParamTypes(), results: def.ResultTypes()}
	}
	return out
}

// verifyExports checks that every required export exists with the
// signature the wasm32 ABI gives it.
func verifyExports(got map[string]signature) error {
	names := make([]string, 0, len(requiredExports))
	for name := range requiredExports {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		have, ok := got[name]
		if !ok {
			return errors.MissingExport(name)
		}
		if want := requiredExports[name]; !have.equal(want) {
			return errors.New(errors.PhaseEngine, errors.KindMissingExport).
				Value(name).
				Detail("%s has signature %s, want %s", name, have, want).
				Build()
		}
	}
	return nil
}
