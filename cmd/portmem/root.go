package main

import (
	"io"

	"github.com/omrgo/portmem/vmem"
	"github.com/omrgo/portmem/vmem/simvmem"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	simulate           bool
	verbose            bool
	hugepageAdvice     bool
	simulatedLargePage = sizeListValue{}
)

// Root is the top level command
var Root = &cobra.Command{
	Use:   "portmem",
	Short: "Inspect and exercise virtual memory reservations.",
	Long: `portmem reports the page sizes the platform supports, shows how page size
requests are resolved, and walks a reservation through commit, suballocation
and release.

With --simulate the reservations are made in a synthetic address space instead
of the process's own, which is useful on platforms without large pages.`,
	SilenceUsage: true,
}

func init() {
	rootFlags := Root.PersistentFlags()
	rootFlags.BoolVarP(&simulate, "simulate", "s", false, "Reserve from a simulated address space")
	rootFlags.BoolVarP(&verbose, "verbose", "v", false, "Log every manager operation")
	rootFlags.BoolVar(&hugepageAdvice, "hugepage-advice", false, "Advise the OS to back base page reservations with transparent huge pages")
	rootFlags.Var(&simulatedLargePage, "sim-large-pages", "Large page sizes the simulated address space offers, e.g. 2MiB,1GiB")
}

func newLogger(output io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(output))
}

func newManager(command *cobra.Command) (*vmem.Manager, error) {
	logger := newLogger(command.ErrOrStderr())
	options := vmem.CreateOptions{
		EnableHugepageAdvice: hugepageAdvice,
	}

	if simulate {
		provider := simvmem.New(simvmem.Options{
			LargePageSizes: simulatedLargePage,
		})
		options.Capabilities = provider.Capabilities()
		return vmem.New(logger, provider, options)
	}

	return vmem.New(logger, vmem.NewOSProvider(), options)
}
