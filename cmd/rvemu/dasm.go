package main

import (
	"debug/elf"
	"fmt"

	"github.com/spf13/cobra"

	"rvkit/dasm"
)

func newDasmCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "dasm FILE",
		Short: "Load FILE and disassemble its executable regions",
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

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "entry %08x\n", img.Entry)
			for _, s := range img.Segments {
				if s.Flags&elf.PF_X == 0 {
					continue
				}
				fmt.Fprintf(w, "\nsegment vaddr=%08x offset=%08x size=%d\n", s.Vaddr, s.Offset, s.Memsz)
				if err := dasm.Text(w, img.Mem[s.Offset:s.Offset+s.Memsz], s.Offset); err != nil {
					return err
				}
			}
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}
