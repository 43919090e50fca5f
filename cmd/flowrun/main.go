package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/codec"
	"github.com/wippyai/flow-bridge/engine"
	"github.com/wippyai/flow-bridge/flowtest"
	"github.com/wippyai/flow-bridge/native"
	"github.com/wippyai/flow-bridge/runtime"
)

type options struct {
	lib       string
	mode      string
	fsRoot    string
	file      string
	src       string
	funcName  string
	args      string
	useNative bool
	reference bool
	list      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.lib, "lib", os.Getenv("FLOW_WASM"), "Path to libflow.wasm (default $FLOW_WASM)")
	flag.StringVar(&opts.mode, "mode", "compiled", "wazero mode: compiled or interpreter")
	flag.StringVar(&opts.fsRoot, "root", "", "Host directory mounted as / for the guest")
	flag.StringVar(&opts.file, "file", "", "Flow source file to load")
	flag.StringVar(&opts.src, "src", "", "Flow source text to compile")
	flag.StringVar(&opts.funcName, "func", "", "Function to call")
	flag.StringVar(&opts.args, "args", "", "Arguments (comma-separated)")
	flag.BoolVar(&opts.useNative, "native", false, "Use the system libflow through cgo")
	flag.BoolVar(&opts.reference, "ref", false, "Use the built-in reference interpreter")
	flag.BoolVar(&opts.list, "list", false, "List functions and exit")
	interactive := flag.Bool("i", false, "Interactive mode with TUI")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if opts.file == "" && opts.src == "" {
		fmt.Fprintln(os.Stderr, "Usage: flowrun -lib <libflow.wasm> -file <module.flow> [-func name] [-args a,b]")
		fmt.Fprintln(os.Stderr, "       flowrun -lib <libflow.wasm> -src '<source>' -list")
		fmt.Fprintln(os.Stderr, "       flowrun -native -file <module.flow> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		if logger, err := zap.NewDevelopment(); err == nil {
			runtime.SetLogger(logger)
			engine.SetLogger(logger)
			defer logger.Sync()
		}
	}

	ctx := context.Background()
	if err := run(ctx, opts, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, interactive bool) error {
	lib, closeLib, err := openLibrary(ctx, opts)
	if err != nil {
		return err
	}
	defer closeLib()

	rt, err := runtime.NewBridge(lib).NewRuntime(ctx)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer rt.Close(ctx)

	mod, err := loadModule(ctx, rt, opts)
	if err != nil {
		return err
	}
	defer mod.Close(ctx)

	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(ctx, mod)
	}

	if opts.list || opts.funcName == "" {
		return list(ctx, mod)
	}
	return call(ctx, mod, opts.funcName, splitArgs(opts.args))
}

// openLibrary picks a backend. The returned func releases it.
func openLibrary(ctx context.Context, opts options) (flowbridge.Library, func(), error) {
	switch {
	case opts.reference:
		return flowtest.New(), func() {}, nil
	case opts.useNative:
		lib, err := native.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open native libflow: %w", err)
		}
		return lib, func() {}, nil
	}

	if opts.lib == "" {
		return nil, nil, fmt.Errorf("no libflow.wasm given: use -lib, $FLOW_WASM, -native or -ref")
	}
	mode, err := engine.ParseMode(opts.mode)
	if err != nil {
		return nil, nil, err
	}
	lib, err := engine.Open(ctx, engine.Config{
		Path:   opts.lib,
		Mode:   mode,
		FSRoot: opts.fsRoot,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", opts.lib, err)
	}
	return lib, func() { lib.Close(ctx) }, nil
}

func loadModule(ctx context.Context, rt *runtime.Runtime, opts options) (*runtime.Module, error) {
	if opts.src != "" {
		mod, err := rt.Compile(ctx, opts.src)
		if err != nil {
			return nil, fmt.Errorf("compile: %w", err)
		}
		return mod, nil
	}
	mod, err := rt.LoadModule(ctx, opts.file)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.file, err)
	}
	return mod, nil
}

func list(ctx context.Context, mod *runtime.Module) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		text, err := mod.Inspect(ctx)
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
		fmt.Println(strings.TrimRight(text, "\n"))
		return nil
	}

	funcs, err := loadFuncs(ctx, mod)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(" " + mod.Origin() + " "))
	if len(funcs) == 0 {
		fmt.Println(helpStyle.Render("Module contains no functions"))
		return nil
	}
	for _, f := range funcs {
		fmt.Println("  " + formatFunc(f))
	}
	return nil
}

func call(ctx context.Context, mod *runtime.Module, name string, raw []string) error {
	args := make([]any, len(raw))
	info, err := mod.FunctionInfo(ctx, name)
	if err == nil && len(info.Params) == len(raw) {
		for i, p := range info.Params {
			t, err := codec.WITType(p.Type)
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			if args[i], err = codec.ParseArg(raw[i], t); err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
		}
	} else {
		for i, s := range raw {
			args[i] = codec.InferArg(s)
		}
	}

	result, err := mod.Call(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	if result == nil {
		fmt.Println("Result: (void)")
		return nil
	}
	fmt.Printf("Result: %v\n", result)
	return nil
}

func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// loadFuncs returns the module's functions sorted by name.
func loadFuncs(ctx context.Context, mod *runtime.Module) ([]funcInfo, error) {
	fns, err := mod.Functions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reflect: %w", err)
	}
	out := make([]funcInfo, 0, len(fns))
	for _, fn := range fns {
		fi := funcInfo{name: fn.Info.Name, returnType: fn.Info.ReturnType}
		for _, p := range fn.Info.Params {
			t, err := codec.WITType(p.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", fn.Info.Name, p.Name, err)
			}
			fi.params = append(fi.params, paramInfo{name: p.Name, witType: t, typeStr: p.Type})
		}
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}
