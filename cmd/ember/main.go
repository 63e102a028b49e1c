package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/compiler"
	"github.com/kristofer/ember/pkg/config"
	"github.com/kristofer/ember/pkg/modcache"
	"github.com/kristofer/ember/pkg/value"
	"github.com/kristofer/ember/pkg/vm"
)

const version = "0.1.0"

var errColor = color.New(color.FgRed, color.Bold)

func main() {
	app := &cli.Command{
		Name:  "ember",
		Usage: "an embeddable register-VM for a small object-oriented scripting language",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML host configuration file"},
		},
		Commands: []*cli.Command{
			runCommand,
			replCommand,
			compileCommand,
			disassembleCommand,
			versionCommand,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() > 0 {
				return runFile(cmd, cmd.Args().First())
			}
			return runREPL(cmd)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		errColor.Fprintf(os.Stderr, "ember: %v\n", err)
		os.Exit(1)
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print ember's version",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		fmt.Printf("ember version %s\n", version)
		return nil
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "compile and run a source file",
	ArgsUsage: "<file>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() == 0 {
			return fmt.Errorf("run: no file specified")
		}
		return runFile(cmd, cmd.Args().First())
	},
}

var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "start an interactive read-eval-print loop",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return runREPL(cmd)
	},
}

var compileCommand = &cli.Command{
	Name:      "compile",
	Usage:     "compile source files into the module cache",
	ArgsUsage: "<file...>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "cache", Usage: "path to the module cache database", Value: "ember.modcache"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		files := cmd.Args().Slice()
		if len(files) == 0 {
			return fmt.Errorf("compile: no files specified")
		}
		return compileFiles(cmd.String("cache"), files)
	},
}

var disassembleCommand = &cli.Command{
	Name:      "disassemble",
	Aliases:   []string{"disasm"},
	Usage:     "compile a source file and print its bytecode",
	ArgsUsage: "<file>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() == 0 {
			return fmt.Errorf("disassemble: no file specified")
		}
		return disassembleFile(cmd.Args().First())
	},
}

// loadConfig reads the --config file if one was given, else returns the
// default Configuration -- a host that never heard of config.yaml behaves
// identically to one that loaded an empty one.
func loadConfig(cmd *cli.Command) (config.Configuration, error) {
	path := cmd.String("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newEmberVM builds a VM from cfg, wires up the module loader against
// moduleDir and cfg.ModulePaths, and installs the compiler -- optionally
// wrapped in a modcache.CachingCompiler when cfg.ModuleCachePath is set.
func newEmberVM(cfg config.Configuration, moduleDir string) (*vm.VM, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(cfg.ZerologLevel())
	vmCfg := cfg.VMConfig(logger)

	searchPaths := append([]string{moduleDir}, cfg.ModulePaths...)
	vmCfg.ResolveModule = func(importer, name string) string { return name }
	vmCfg.LoadModule = func(name string) (string, bool) {
		for _, dir := range searchPaths {
			path := dir + string(os.PathSeparator) + name + ".ember"
			if data, err := os.ReadFile(path); err == nil {
				return string(data), true
			}
		}
		return "", false
	}
	vmCfg.Write = func(text string) { fmt.Print(text) }
	vmCfg.Error = func(kind vm.ErrorKind, module string, line int, message string) {
		errColor.Fprintf(os.Stderr, "%s:%d: %s\n", module, line, message)
	}

	v := vm.New(vmCfg)

	var comp interface {
		Compile(v *vm.VM, module *value.Module, source string, isExpression, printErrors bool) (*value.Fn, error)
		MarkCompiler(v *vm.VM)
		IsLocalName(name string) bool
	} = compiler.New()

	if cfg.ModuleCachePath != "" {
		cache, err := modcache.Open(cfg.ModuleCachePath)
		if err != nil {
			return nil, fmt.Errorf("opening module cache: %w", err)
		}
		comp = modcache.NewCachingCompiler(comp, cache)
	}
	v.SetCompiler(comp)
	return v, nil
}

func runFile(cmd *cli.Command, filename string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}

	dir := dirOf(filename)
	v, err := newEmberVM(cfg, dir)
	if err != nil {
		return err
	}

	if result := v.Interpret(moduleNameOf(filename), string(data)); result != vm.ResultSuccess {
		return fmt.Errorf("run: %s failed", filename)
	}
	return nil
}

// compileFiles warms the module cache with every file, collecting a
// failure per file rather than stopping at the first -- a batch compile
// of a whole project deserves the full list of what's broken.
func compileFiles(cachePath string, files []string) error {
	cache, err := modcache.Open(cachePath)
	if err != nil {
		return fmt.Errorf("opening module cache: %w", err)
	}
	defer cache.Close()

	v := vm.New(vm.Config{})
	comp := compiler.New()
	v.SetCompiler(comp)

	var result *multierror.Error
	for _, filename := range files {
		if err := compileOneFile(v, comp, cache, filename); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", filename, err))
			continue
		}
		fmt.Printf("cached %s\n", filename)
	}
	return result.ErrorOrNil()
}

func compileOneFile(v *vm.VM, comp *compiler.Compiler, cache *modcache.Cache, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	moduleName := moduleNameOf(filename)
	module := v.NewModule(moduleName)
	fn, err := comp.Compile(v, module, string(data), false, false)
	if err != nil {
		return err
	}
	return cache.Put(moduleName, modcache.HashSource(string(data)), fn)
}

func disassembleFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}

	v := vm.New(vm.Config{})
	comp := compiler.New()
	v.SetCompiler(comp)
	module := v.NewModule(moduleNameOf(filename))

	fn, err := comp.Compile(v, module, string(data), false, false)
	if err != nil {
		return fmt.Errorf("compile error: %w", err)
	}

	fmt.Printf("=== %s ===\n", filename)
	disassembleFn(fn, map[*value.Fn]bool{})
	return nil
}

// disassembleFn prints one Fn's constants and instructions, recursing
// into any nested Fn a CLOSURE instruction's constant points at. seen
// guards against printing the same prototype twice if more than one
// CLOSURE shares it (not possible today, but cheap insurance).
func disassembleFn(fn *value.Fn, seen map[*value.Fn]bool) {
	if seen[fn] {
		return
	}
	seen[fn] = true

	fmt.Printf("\nfn %s (arity=%d maxSlots=%d upvalues=%d)\n", fn.DebugName, fn.Arity, fn.MaxSlots, fn.NumUpvalues)
	for i, instr := range fn.Code {
		fmt.Printf("  %4d: %s", i, instr.Op())
		formatOperands(instr, fn)
		fmt.Println()
	}

	var nested []*value.Fn
	for _, c := range fn.Constants {
		if c.Is(value.ObjFn) {
			nested = append(nested, c.AsObj().(*value.Fn))
		}
	}
	for _, child := range nested {
		disassembleFn(child, seen)
	}
}

func formatOperands(instr bytecode.Instruction, fn *value.Fn) {
	switch instr.Op() {
	case bytecode.OpLoadK, bytecode.OpGetGlobal, bytecode.OpSetGlobal, bytecode.OpClosure, bytecode.OpAddElemK:
		fmt.Printf(" A=%d Bx=%d", instr.A(), instr.Bx())
		if bx := instr.Bx(); bx >= 0 && bx < len(fn.Constants) {
			fmt.Printf(" (%v)", fn.Constants[bx])
		}
	case bytecode.OpJump:
		fmt.Printf(" sJ=%d", instr.SJ())
	default:
		fmt.Printf(" A=%d B=%d C=%d", instr.A(), instr.B(), instr.C())
	}
}

func runREPL(cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, _ := os.Getwd()
	v, err := newEmberVM(cfg, dir)
	if err != nil {
		return err
	}

	rl, err := readline.New("ember> ")
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("ember %s -- Ctrl-D to exit\n", version)

	var buf strings.Builder
	for {
		prompt := "ember> "
		if buf.Len() > 0 {
			prompt = "   ... "
		}
		rl.SetPrompt(prompt)

		line, err := rl.Readline()
		if err != nil {
			break
		}

		buf.WriteString(line)
		buf.WriteString("\n")

		if !balanced(buf.String()) {
			continue
		}

		input := strings.TrimSpace(buf.String())
		buf.Reset()
		if input == "" {
			continue
		}
		v.Interpret("(repl)", input)
	}
	fmt.Println()
	return nil
}

// balanced is the REPL's multi-line heuristic: keep reading lines until
// every brace/paren/bracket opened so far has been closed, the same
// approach the teacher's REPL uses for its statement terminator, adapted
// to braces instead of trailing periods.
func balanced(src string) bool {
	depth := 0
	inString := false
	escaped := false
	for _, r := range src {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
		}
	}
	return depth <= 0
}

func dirOf(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == os.PathSeparator {
			return filename[:i]
		}
	}
	return "."
}

func moduleNameOf(filename string) string {
	base := filename
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == os.PathSeparator {
			base = filename[i+1:]
			break
		}
	}
	if strings.HasSuffix(base, ".ember") {
		return base[:len(base)-len(".ember")]
	}
	return base
}
