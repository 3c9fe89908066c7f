// Package benchmark implements the pipeline throughput subcommand.
package benchmark

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/matcher"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/pattern"
)

// syntheticWindows is the length of the reference pattern synthesized when
// the catalogue is empty, so matching cost is still representative.
const syntheticWindows = 40

// Command creates the benchmark command.
func Command(settings *conf.Settings) *cobra.Command {
	var ticks int

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Measure feature extraction and matching throughput",
		Long: "Run synthetic audio through the extraction and matching pipeline " +
			"and report whether this machine keeps up with the configured capture rate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(settings, ticks)
		},
	}

	cmd.Flags().IntVar(&ticks, "ticks", 2000, "Number of analysis windows to process")
	return cmd
}

func runBenchmark(settings *conf.Settings, ticks int) error {
	extractor, err := dsp.NewExtractor(settings.Audio.ChunkSize, settings.Detection.SilenceThreshold)
	if err != nil {
		return err
	}

	store := pattern.NewStore()
	if err := store.Load(settings.Patterns.Directory, extractor, settings); err != nil {
		return err
	}
	if store.Len() == 0 {
		p, err := syntheticPattern(extractor, settings)
		if err != nil {
			return err
		}
		store.Add(p)
	}

	patterns := store.All()
	maxLen := store.MaxFeatureLen()
	live := make([]dsp.FeatureVector, 0, maxLen)

	start := time.Now()
	for i := 0; i < ticks; i++ {
		fv, err := extractor.Extract(toneChunk(i, settings.Audio.ChunkSize, settings.Audio.SampleRate))
		if err != nil {
			return err
		}
		live = append(live, fv)
		if len(live) > maxLen {
			copy(live, live[len(live)-maxLen:])
			live = live[:maxLen]
		}
		matcher.BestMatch(live, patterns, start)
	}
	elapsed := time.Since(start)

	perTick := elapsed / time.Duration(ticks)
	budget := settings.TickInterval()
	factor := float64(budget) / float64(perTick)

	fmt.Printf("Patterns:         %d (longest %d windows)\n", len(patterns), maxLen)
	fmt.Printf("Ticks processed:  %d\n", ticks)
	fmt.Printf("Total time:       %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Per tick:         %s (budget %s per chunk)\n", perTick.Round(time.Microsecond), budget.Round(time.Microsecond))
	fmt.Printf("Realtime factor:  %.1fx\n", factor)
	if factor < 1 {
		fmt.Println("WARNING: slower than realtime, the capture buffer will overrun")
	}
	return nil
}

// syntheticPattern builds a tone-sweep reference covering syntheticWindows
// analysis windows.
func syntheticPattern(extractor *dsp.Extractor, settings *conf.Settings) (*pattern.Pattern, error) {
	size := settings.Audio.ChunkSize
	samples := make([]float32, 0, syntheticWindows*size)
	for i := 0; i < syntheticWindows; i++ {
		samples = append(samples, toneChunk(i, size, settings.Audio.SampleRate)...)
	}

	features, err := extractor.ExtractSeries(samples)
	if err != nil {
		return nil, err
	}
	return &pattern.Pattern{
		ID:            "benchmark-synthetic",
		Features:      features,
		FrameDuration: settings.TickInterval(),
		Metadata: pattern.Metadata{
			ID:         "benchmark-synthetic",
			SampleRate: settings.Audio.SampleRate,
			Channels:   1,
		},
	}, nil
}

// toneChunk synthesizes one analysis window of deterministic audio whose
// spectrum varies with the tick index.
func toneChunk(tick, size, sampleRate int) []float32 {
	freq := 200 + float64(tick%syntheticWindows)*50
	out := make([]float32, size)
	for n := range out {
		t := float64(n) / float64(sampleRate)
		out[n] = float32(0.5*math.Sin(2*math.Pi*freq*t) + 0.1*math.Sin(2*math.Pi*3*freq*t))
	}
	return out
}
