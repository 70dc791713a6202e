package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/omrgo/portmem/porterr"
	"github.com/omrgo/portmem/vmem"
	"github.com/spf13/cobra"
)

func init() {
	Root.AddCommand(memInfoCommand)
}

var memInfoCommand = &cobra.Command{
	Use:   "meminfo",
	Short: "Report available physical memory and the size of this process.",
	Args:  cobra.NoArgs,
	RunE: func(command *cobra.Command, args []string) error {
		output := command.OutOrStdout()

		available, err := vmem.AvailablePhysicalMemory()
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "%-20s %s\n", "available physical:", humanize.IBytes(available))

		for _, query := range []vmem.ProcessMemoryQuery{vmem.ProcessMemoryPrivate, vmem.ProcessMemoryPhysical, vmem.ProcessMemoryVirtual} {
			size, err := vmem.ProcessMemorySize(query)
			if errors.Is(err, porterr.ErrUnsupported) {
				fmt.Fprintf(output, "%-20s unsupported\n", "process "+query.String()+":")
				continue
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(output, "%-20s %s\n", "process "+query.String()+":", humanize.IBytes(size))
		}
		return nil
	},
}
