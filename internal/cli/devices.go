package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zokiio/halfduplex-voice/internal/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input and output devices",
	Long: `List the labels of every capture and playback device. Use a label as
device.input or device.output in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := device.ListInputs()
		if err != nil {
			return err
		}
		outputs, err := device.ListOutputs()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Inputs:")
		for _, l := range inputs {
			fmt.Fprintf(out, "  %s\n", l)
		}
		fmt.Fprintln(out, "Outputs:")
		for _, l := range outputs {
			fmt.Fprintf(out, "  %s\n", l)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
