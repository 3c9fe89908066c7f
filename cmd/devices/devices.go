// Package devices implements the capture device listing subcommand.
package devices

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/myaudio"
)

// Command creates the devices command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio capture devices",
		Long: "List the capture devices of the platform audio backend. Use a " +
			"device name from this list as the audio source setting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := myaudio.ListCaptureDevices()
			if err != nil {
				return err
			}

			if len(devices) == 0 {
				fmt.Println("No capture devices found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tID")
			for _, d := range devices {
				marker := ""
				if d.Name == settings.Audio.Source {
					marker = " (selected)"
				}
				fmt.Fprintf(w, "%d\t%s%s\t%s\n", d.Index, d.Name, marker, d.ID)
			}
			return w.Flush()
		},
	}
}
