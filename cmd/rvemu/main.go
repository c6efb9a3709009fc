// rvemu loads RV32I programs and runs them in the interpreter.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"rvkit/config"
	"rvkit/log"
)

// exitStatus carries a guest exit code out of Execute.
type exitStatus int32

func (e exitStatus) Error() string { return fmt.Sprintf("program exited with status %d", int32(e)) }

type runOptions struct {
	configPath string
	mode       string
	dataSeg    uint32
	trace      bool
	steps      uint64
	logLevel   string
	debug      string
	pageSize   uint32
}

// resolve merges the config file, when given, with the flags set on cmd.
func (o *runOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = o.mode
	}
	if flags.Changed("empend-segment") {
		cfg.DataSegment = o.dataSeg
	}
	if flags.Changed("trace") {
		cfg.Trace = o.trace
	}
	if flags.Changed("steps") {
		cfg.MaxSteps = o.steps
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("debug") {
		cfg.LogModules = o.debug
	}
	if flags.Changed("page-size") {
		cfg.PageSize = o.pageSize
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := log.InitLogger(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
		return cfg, err
	}
	log.EnableModules(cfg.LogModules)
	return cfg, nil
}

func (o *runOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML run configuration")
	f.StringVarP(&o.mode, "mode", "m", config.ModeELF, "Input format: elf or raw")
	f.Uint32VarP(&o.dataSeg, "empend-segment", "e", 0, "Bytes of zeroed data placed before a raw program")
	f.Uint32Var(&o.pageSize, "page-size", 0, "Protection granularity (0 uses the host page size)")
	f.StringVar(&o.logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
	f.StringVar(&o.debug, "debug", "", "Modules to enable debug logging for (loader,sim,bfc,cli)")
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rvemu",
		Short:         "RV32I loader, interpreter and disassembler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.AddCommand(newRunCmd(), newDasmCmd())
	return rootCmd
}

func main() {
	err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute()
	if err == nil {
		return
	}
	var status exitStatus
	if errors.As(err, &status) {
		os.Exit(int(status))
	}
	fmt.Fprintln(os.Stderr, "rvemu:", err)
	os.Exit(1)
}
