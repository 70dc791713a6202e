package main

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/omrgo/portmem/vmem"
	"github.com/spf13/cobra"
)

var pageSizesJSON bool

func init() {
	Root.AddCommand(pageSizesCommand)
	pageSizesCommand.Flags().BoolVar(&pageSizesJSON, "json", false, "Print the page size table as JSON")
}

var pageSizesCommand = &cobra.Command{
	Use:   "pagesizes",
	Short: "List the page sizes that reservations can use.",
	Args:  cobra.NoArgs,
	RunE: func(command *cobra.Command, args []string) error {
		manager, err := newManager(command)
		if err != nil {
			return err
		}
		defer manager.Destroy()

		capabilities := manager.Capabilities()
		output := command.OutOrStdout()

		if pageSizesJSON {
			writer := jwriter.NewWriter()
			writeCapabilities(&writer, capabilities)
			if err := writer.Error(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(output, string(writer.Bytes()))
			return err
		}

		largePage, hasLargePage := capabilities.DefaultLargePageSize(vmem.ModeRead | vmem.ModeWrite)
		for _, pageSize := range capabilities.SupportedPageSizes() {
			marker := ""
			if pageSize == capabilities.BasePageSize() {
				marker = " (base)"
			} else if hasLargePage && pageSize == largePage {
				marker = " (default large page)"
			}
			fmt.Fprintf(output, "%10s  %s%s\n", formatSize(pageSize.Size), pageSize.Flags, marker)
		}
		fmt.Fprintf(output, "executable large pages: %t\n", capabilities.ExecutableLargePages)
		fmt.Fprintf(output, "transparent huge page advice: %t\n", capabilities.HugepageAdvice)
		return nil
	},
}

func writeCapabilities(writer *jwriter.Writer, capabilities *vmem.PlatformCapabilities) {
	obj := writer.Object()
	defer obj.End()

	pageSizes := obj.Name("PageSizes").Array()
	for _, pageSize := range capabilities.SupportedPageSizes() {
		pageSizeObj := pageSizes.Object()
		pageSizeObj.Name("Size").Int(int(pageSize.Size))
		pageSizeObj.Name("Flags").String(pageSize.Flags.String())
		pageSizeObj.End()
	}
	pageSizes.End()

	if capabilities.DefaultLargePage != nil {
		obj.Name("DefaultLargePage").Int(int(capabilities.DefaultLargePage.Size))
	}
	obj.Name("ExecutableLargePages").Bool(capabilities.ExecutableLargePages)
	obj.Name("HugepageAdvice").Bool(capabilities.HugepageAdvice)
}
