// Command portmem inspects the page sizes the running system can reserve and drives the vmem
// and heap packages end to end, against either the real address space or a simulated one.
package main

import (
	"os"
)

func main() {
	if err := Root.Execute(); err != nil {
		os.Exit(1)
	}
}
