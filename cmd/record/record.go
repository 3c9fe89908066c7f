// Package record implements the pattern recording subcommand.
package record

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/myaudio"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/pattern"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/recorder"
)

const readTimeout = 2 * time.Second

// Command creates the record command.
func Command(settings *conf.Settings) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a new commercial pattern from live audio",
		Long: "Capture a stretch of system audio and save it as a reference " +
			"pattern in the patterns directory. Play the commercial you want " +
			"to detect while this runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, settings, name)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Pattern name (generated when empty)")
	cmd.Flags().Float64Var(&settings.Record.Duration, "duration", viper.GetFloat64("record.duration"), "Seconds of audio to record")
	_ = viper.BindPFlag("record.duration", cmd.Flags().Lookup("duration"))

	return cmd
}

func runRecord(cmd *cobra.Command, settings *conf.Settings, name string) error {
	extractor, err := dsp.NewExtractor(settings.Audio.ChunkSize, settings.Detection.SilenceThreshold)
	if err != nil {
		return err
	}

	source := myaudio.NewBufferSource(settings, readTimeout)
	capture, err := myaudio.StartCapture(settings, source)
	if err != nil {
		return err
	}
	defer capture.Stop()
	defer source.Close()

	fmt.Printf("Recording %.1f seconds of audio, play the commercial now...\n", settings.Record.Duration)

	rec := recorder.New(settings, extractor, pattern.NewStore())
	p, err := rec.Record(cmd.Context(), source, name)
	if err != nil {
		return err
	}

	fmt.Printf("Saved pattern %q (%.1fs, %d windows) to %s\n",
		p.ID, p.Metadata.Duration, len(p.Features), settings.Patterns.Directory)
	return nil
}
