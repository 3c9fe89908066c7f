// Package patterns implements the catalogue management subcommands.
package patterns

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/datastore"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/pattern"
)

// Command creates the patterns command with its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Manage the reference pattern catalogue",
	}

	cmd.AddCommand(listCommand(settings), deleteCommand(settings), detectionsCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the recorded patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			extractor, err := dsp.NewExtractor(settings.Audio.ChunkSize, settings.Detection.SilenceThreshold)
			if err != nil {
				return err
			}

			store := pattern.NewStore()
			if err := store.Load(settings.Patterns.Directory, extractor, settings); err != nil {
				return err
			}

			patterns := store.All()
			if len(patterns) == 0 {
				fmt.Printf("No patterns in %s\n", settings.Patterns.Directory)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDURATION\tWINDOWS\tCREATED")
			for _, p := range patterns {
				created := ""
				if !p.Metadata.CreatedAt.IsZero() {
					created = p.Metadata.CreatedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%.1fs\t%d\t%s\n",
					p.ID, p.Duration().Seconds(), len(p.Features), created)
			}
			return w.Flush()
		},
	}
}

func detectionsCommand(settings *conf.Settings) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "detections",
		Short: "Show recent entries from the detection log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settings.Output.SQLite.Path
			if _, err := os.Stat(path); err != nil {
				return errors.Newf("no detection log at %s (enable output.sqlite and run monitor first)", path).
					Component("patterns").
					Category(errors.CategoryNotFound).
					Build()
			}

			ds := datastore.NewSQLiteStore(settings)
			if err := ds.Open(); err != nil {
				return err
			}
			defer func() { _ = ds.Close() }()

			records, err := ds.RecentDetections(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No detections logged yet")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tDURATION\tPATTERN\tSCORE")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%.1fs\t%s\t%.3f\n",
					r.StartedAt.Format("2006-01-02 15:04:05"), r.Duration, r.PatternID, r.Score)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of detections to show")
	return cmd
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pattern and its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			wavPath := filepath.Join(settings.Patterns.Directory, id+".wav")

			if _, err := os.Stat(wavPath); err != nil {
				return errors.Newf("pattern %q not found in %s", id, settings.Patterns.Directory).
					Component("patterns").
					Category(errors.CategoryNotFound).
					Build()
			}
			if err := os.Remove(wavPath); err != nil {
				return err
			}
			// The sidecar is optional, ignore a missing one
			_ = os.Remove(filepath.Join(settings.Patterns.Directory, id+".json"))

			fmt.Printf("Deleted pattern %q\n", id)
			return nil
		},
	}
}
