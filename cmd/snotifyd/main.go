// Command snotifyd hosts the snotify notification core as a long-running
// daemon: it loads a YAML configuration, watches the configured paths,
// and keeps a persistent account cache in sync with them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCommand is the snotifyd entry point.
var rootCommand = &cobra.Command{
	Use:          "snotifyd",
	Short:        "Filesystem change notification daemon",
	SilenceUsage: true,
}

func main() {
	rootCommand.AddCommand(runCommand)
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "snotifyd:", err)
		os.Exit(1)
	}
}
