package myaudio

import (
	"encoding/hex"
	"log/slog"
	"runtime"
	"strings"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
)

// AudioDeviceInfo holds information about an audio capture device.
type AudioDeviceInfo struct {
	Index int
	Name  string
	ID    string
}

// Capture owns a running malgo capture device feeding a BufferSource.
type Capture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	source *BufferSource
	log    *slog.Logger
}

// platformBackend returns the preferred miniaudio backend for this OS.
func platformBackend() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil // let miniaudio pick
	}
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// matchesDeviceSettings checks if the device matches the source specified
// by the user, by decoded ID or name substring.
func matchesDeviceSettings(decodedID string, info malgo.DeviceInfo, audioSource string) bool {
	if runtime.GOOS == "windows" && audioSource == "sysdefault" {
		// On Windows there is no "sysdefault" device; use the default
		// capture device instead.
		return info.IsDefault == 1
	}
	return decodedID == audioSource || strings.Contains(info.Name(), audioSource)
}

// ListCaptureDevices returns the available audio capture devices.
func ListCaptureDevices() ([]AudioDeviceInfo, error) {
	ctx, err := malgo.InitContext(platformBackend(), malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Build()
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "list_devices").
			Build()
	}

	devices := make([]AudioDeviceInfo, 0, len(infos))
	for i, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			continue
		}
		devices = append(devices, AudioDeviceInfo{
			Index: i,
			Name:  info.Name(),
			ID:    decodedID,
		})
	}

	return devices, nil
}

// StartCapture opens the configured capture device and begins writing
// S16LE PCM into the given buffer source. The device keeps running until
// Stop is called.
func StartCapture(settings *conf.Settings, source *BufferSource) (*Capture, error) {
	log := logging.ForService("audio-capture")

	malgoCtx, err := malgo.InitContext(platformBackend(), malgo.ContextConfig{}, func(message string) {
		if settings.Debug && log != nil {
			log.Debug("miniaudio", "message", strings.TrimSpace(message))
		}
	})
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(settings.Audio.Channels)
	deviceConfig.SampleRate = uint32(settings.Audio.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "list_devices").
			Build()
	}

	selected, err := selectCaptureSource(settings.Audio.Source, infos)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, err
	}
	deviceConfig.Capture.DeviceID = selected.pointer

	onReceiveFrames := func(pOutput, pInput []byte, frameCount uint32) {
		source.Write(pInput)
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onReceiveFrames,
	})
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("device", selected.name).
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("device", selected.name).
			Build()
	}

	if log != nil {
		log.Info("capture started",
			"device", selected.name,
			"sample_rate", settings.Audio.SampleRate,
			"channels", settings.Audio.Channels)
	}

	return &Capture{ctx: malgoCtx, device: device, source: source, log: log}, nil
}

// Stop stops the capture device and releases the audio context.
func (c *Capture) Stop() {
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
	if c.log != nil {
		c.log.Info("capture stopped")
	}
}

// captureSource holds the selected capture device.
type captureSource struct {
	name    string
	id      string
	pointer unsafe.Pointer
}

// selectCaptureSource picks the capture device matching the configured
// source name or ID.
func selectCaptureSource(audioSource string, infos []malgo.DeviceInfo) (captureSource, error) {
	for _, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			continue
		}
		if matchesDeviceSettings(decodedID, info, audioSource) {
			return captureSource{
				name:    info.Name(),
				id:      decodedID,
				pointer: info.ID.Pointer(),
			}, nil
		}
	}

	return captureSource{}, errors.Newf("no suitable capture source found for device setting %q", audioSource).
		Component("myaudio").
		Category(errors.CategoryAudioSource).
		Build()
}
