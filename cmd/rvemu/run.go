package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rvkit/config"
	"rvkit/loader"
	"rvkit/log"
	"rvkit/sim"
)

func openImage(cfg config.Config, path string) (*loader.Image, error) {
	l := &loader.Loader{PageSize: cfg.PageSize}
	if cfg.Mode == config.ModeRaw {
		return l.OpenRaw(path, cfg.DataSegment)
	}
	return l.Open(path)
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Load FILE and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			img, err := openImage(cfg, args[0])
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			defer img.Close()

			mem := sim.NewMemory(img.Mem)
			mem.Protect(protRegions(img)...)
			host := &sim.Host{In: cmd.InOrStdin(), Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()}
			cpu := sim.New(mem, host, img.Entry)
			if cfg.Trace {
				cpu.Trace = cmd.ErrOrStderr()
			}

			steps, err := cpu.Run(cfg.MaxSteps)
			log.Info(log.CLI, "execution finished", "steps", steps, "halted", cpu.Halted, "exit", cpu.ExitCode)
			if err != nil {
				return err
			}
			if cpu.ExitCode != 0 {
				return exitStatus(cpu.ExitCode)
			}
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVarP(&opts.trace, "trace", "t", false, "Print each instruction before it executes")
	cmd.Flags().Uint64Var(&opts.steps, "steps", 0, "Stop after this many instructions (0 runs to completion)")
	return cmd
}

func protRegions(img *loader.Image) []sim.Region {
	rs := make([]sim.Region, 0, len(img.Regions))
	for _, r := range img.Regions {
		rs = append(rs, sim.Region{Offset: r.Offset, Size: r.Size, Flags: r.Flags})
	}
	return rs
}
