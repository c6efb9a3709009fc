// bfc compiles tape-language source into an RV32I ELF executable.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"rvkit/bfc"
	"rvkit/config"
	"rvkit/log"
)

type options struct {
	configPath string
	output     string
	logLevel   string
	debug      string
}

// resolve applies the config file, when given, under the flags set on cmd.
func (o *options) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Output = o.output
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("debug") {
		cfg.LogModules = o.debug
	}
	if err := log.InitLogger(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
		return cfg, err
	}
	log.EnableModules(cfg.LogModules)
	return cfg, nil
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	var o options
	rootCmd := &cobra.Command{
		Use:           "bfc [FILE]",
		Short:         "Compile a source file (or stdin) to an RV32I executable",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve(cmd)
			if err != nil {
				return err
			}
			output := cfg.Output

			src, name := stdin, "<stdin>"
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src, name = f, args[0]
			}

			image, err := bfc.Build(src)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := os.WriteFile(output, image, 0o755); err != nil {
				return err
			}
			// WriteFile keeps the mode of an existing file.
			if err := os.Chmod(output, 0o755); err != nil {
				return err
			}
			log.Info(log.Bfc, "wrote executable", "path", output, "bytes", len(image))
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	f := rootCmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML configuration (output, log_level, log_modules)")
	f.StringVarP(&o.output, "output", "o", "a.out", "Output path")
	f.StringVar(&o.logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
	f.StringVar(&o.debug, "debug", "", "Modules to enable debug logging for")
	return rootCmd
}

func main() {
	if err := newRootCmd(os.Stdin).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bfc:", err)
		os.Exit(1)
	}
}
