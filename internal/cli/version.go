package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zokiio/halfduplex-voice/internal/codec"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "halfduplex-voice %s\n", Version)
		fmt.Fprintf(out, "  go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		backends := codec.Backends()
		if len(backends) == 0 {
			fmt.Fprintln(out, "  codecs: none (built without cgo)")
			return
		}
		fmt.Fprintf(out, "  codecs: %s\n", strings.Join(backends, ", "))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
