// Package monitor implements the realtime monitoring subcommand.
package monitor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/actuator"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/datastore"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/dsp"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/monitor"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/myaudio"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/notify"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/observability"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/observability/metrics"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/pattern"
)

// readTimeout bounds a single chunk read so the loop can count retries
// toward the stall limit.
const readTimeout = 2 * time.Second

// Command creates the monitor command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Monitor system audio and mute commercials",
		Long: "Capture system audio, match it against the pattern catalogue " +
			"and drive the mute and dim actuators while a commercial plays.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), settings)
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the monitor command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().Float64Var(&settings.Detection.MatchThreshold, "threshold", viper.GetFloat64("detection.match_threshold"), "Similarity required for a qualifying tick (0.0-1.0)")
	cmd.Flags().BoolVar(&settings.Actuator.Mute.Enabled, "mute", viper.GetBool("actuator.mute.enabled"), "Mute system audio during commercials")
	cmd.Flags().BoolVar(&settings.Actuator.Dim.Enabled, "dim", viper.GetBool("actuator.dim.enabled"), "Dim the screen during commercials")
	cmd.Flags().BoolVar(&settings.Realtime.Telemetry.Enabled, "telemetry", viper.GetBool("realtime.telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Realtime.Telemetry.Listen, "listen", viper.GetString("realtime.telemetry.listen"), "Listen address and port of telemetry endpoint")

	_ = viper.BindPFlags(cmd.Flags())
}

// runMonitor wires the capture, detection and action pipeline together
// and blocks until interrupted.
func runMonitor(ctx context.Context, settings *conf.Settings) error {
	log := logging.ForService("main")

	extractor, err := dsp.NewExtractor(settings.Audio.ChunkSize, settings.Detection.SilenceThreshold)
	if err != nil {
		return err
	}

	store := pattern.NewStore()
	if err := store.Load(settings.Patterns.Directory, extractor, settings); err != nil {
		return err
	}
	if store.Len() == 0 {
		log.Warn("pattern catalogue is empty, nothing will match",
			"directory", settings.Patterns.Directory)
	}

	var telemetry *observability.Metrics
	var endpoint *observability.Endpoint
	if settings.Realtime.Telemetry.Enabled {
		telemetry, err = observability.NewMetrics()
		if err != nil {
			return err
		}
		endpoint, err = observability.NewEndpoint(settings, telemetry)
		if err != nil {
			return err
		}
		endpoint.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = endpoint.Shutdown(shutdownCtx)
		}()
	}

	actions, cleanup, err := buildActions(settings, telemetry)
	if err != nil {
		return err
	}
	defer cleanup()

	source := myaudio.NewBufferSource(settings, readTimeout)
	if m := monitorMetricsOf(telemetry); m != nil {
		source.SetOverrunCallback(m.IncrementBufferOverruns)
	}
	capture, err := myaudio.StartCapture(settings, source)
	if err != nil {
		return err
	}
	defer capture.Stop()
	defer source.Close()

	mon := monitor.New(settings, store, extractor, source, monitor.NewDispatcher(actions...), monitorMetricsOf(telemetry))

	conditions := make(chan error, 4)
	mon.SetConditionCallback(func(err error) {
		select {
		case conditions <- err:
		default:
		}
	})

	if err := mon.Start(ctx); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case sig := <-quit:
			log.Info("received signal, shutting down", "signal", sig.String())
			mon.Stop()
			return nil
		case <-ctx.Done():
			mon.Stop()
			return nil
		case err := <-conditions:
			// The loop recovers on its own when audio resumes, so a
			// stalled capture device is worth a warning, not a shutdown
			log.Warn("capture stream condition reported, continuing", "error", err)
		}
	}
}

// buildActions assembles the event consumers enabled in the settings. The
// returned cleanup releases their resources after the dispatcher drained.
func buildActions(settings *conf.Settings, telemetry *observability.Metrics) (actions []monitor.Action, cleanup func(), err error) {
	var cleanups []func()
	cleanup = func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	actions = append(actions, monitor.NewLogAction(logging.ForService("detections")))

	controller := actuator.NewController(settings, actuatorMetricsOf(telemetry))
	actions = append(actions, controller)
	cleanups = append(cleanups, func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = controller.Release(releaseCtx)
	})

	if settings.Output.SQLite.Enabled {
		ds := datastore.NewSQLiteStore(settings)
		if err := ds.Open(); err != nil {
			cleanup()
			return nil, nil, err
		}
		actions = append(actions, monitor.NewDatabaseAction(ds, settings.Main.Name))
		cleanups = append(cleanups, func() { _ = ds.Close() })
	}

	if settings.Realtime.MQTT.Enabled {
		publisher := notify.NewPublisher(settings)
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := publisher.Connect(connectCtx)
		cancel()
		if err != nil {
			// Broker outages should not block local muting
			fmt.Fprintf(os.Stderr, "MQTT connect failed, continuing without notifications: %v\n", err)
		} else {
			actions = append(actions, publisher)
			cleanups = append(cleanups, publisher.Close)
		}
	}

	return actions, cleanup, nil
}

// monitorMetricsOf returns the monitor collector, or nil when telemetry
// is disabled.
func monitorMetricsOf(telemetry *observability.Metrics) *metrics.MonitorMetrics {
	if telemetry == nil {
		return nil
	}
	return telemetry.Monitor
}

// actuatorMetricsOf returns the actuator collector, or nil when telemetry
// is disabled.
func actuatorMetricsOf(telemetry *observability.Metrics) *metrics.ActuatorMetrics {
	if telemetry == nil {
		return nil
	}
	return telemetry.Actuator
}
