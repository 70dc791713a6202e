package main

import (
	"fmt"

	"github.com/omrgo/portmem/vmem"
	"github.com/spf13/cobra"
)

var findExecutable bool

func init() {
	Root.AddCommand(findPageSizeCommand)
	findPageSizeCommand.Flags().BoolVarP(&findExecutable, "exec", "x", false, "Resolve for executable memory")
}

var findPageSizeCommand = &cobra.Command{
	Use:   "findpagesize SIZE",
	Short: "Show which page size a request for SIZE would use.",
	Long: `Resolves a page size request the way a reservation would. A size the
platform supports is used as is. Anything else is replaced by the default large
page, or the base page when there is no usable large page.`,
	Args: cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		size, err := parseSize(args[0])
		if err != nil {
			return err
		}

		manager, err := newManager(command)
		if err != nil {
			return err
		}
		defer manager.Destroy()

		mode := vmem.ModeRead | vmem.ModeWrite
		if findExecutable {
			mode |= vmem.ModeExecute
		}

		pageSize, exact := manager.FindValidPageSize(mode, size, vmem.PageFlagsNotUsed)
		if exact {
			fmt.Fprintf(command.OutOrStdout(), "%s is supported\n", formatSize(size))
		} else {
			fmt.Fprintf(command.OutOrStdout(), "%s is not supported, using %s\n", formatSize(size), formatSize(pageSize.Size))
		}
		return nil
	},
}
