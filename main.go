// Command halfduplex-voice is a voice client that shares one audio
// transducer between capture and playback.
package main

import (
	"fmt"
	"os"

	"github.com/zokiio/halfduplex-voice/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
