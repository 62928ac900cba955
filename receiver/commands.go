package receiver

import (
	"fmt"
	"time"

	"github.com/HunterSees/sourcesync/protocol"
)

// handleCommand dispatches an inbound Command{resync|mute|unmute|
// set_volume|set_delay|restart|shutdown|calibrate|test_tone} message
// (spec.md §4.D). Malformed or unrecognized commands are dropped with
// a logged warning, never partially applied (spec.md §7,
// InvalidMessage).
func (a *Agent) handleCommand(topic string, payload []byte) {
	var cmd protocol.Command
	if errs := protocol.Decode(payload, &cmd); len(errs) > 0 {
		a.log.Warning("receiver: dropped malformed command", "errors", errs)
		return
	}
	if cmd.DeviceID != "" && cmd.DeviceID != a.cfg.DeviceID {
		return
	}

	switch cmd.Command {
	case protocol.CommandResync:
		select {
		case a.resyncNow <- struct{}{}:
		default:
		}
		return // no status change to report.

	case protocol.CommandMute:
		a.mu.Lock()
		a.volumeBeforeMute = a.output.Status().Volume
		a.mu.Unlock()
		if err := a.output.SetVolume(0); err != nil {
			a.log.Warning("receiver: mute failed", "error", err.Error())
		}

	case protocol.CommandUnmute:
		a.mu.Lock()
		v := a.volumeBeforeMute
		a.mu.Unlock()
		if err := a.output.SetVolume(v); err != nil {
			a.log.Warning("receiver: unmute failed", "error", err.Error())
		}

	case protocol.CommandSetVolume:
		v, err := floatParam(cmd.Params, "volume")
		if err != nil {
			a.log.Warning("receiver: set_volume command", "error", err.Error())
			return
		}
		if err := a.output.SetVolume(float32(v)); err != nil {
			a.log.Warning("receiver: set_volume failed", "error", err.Error())
		}

	case protocol.CommandSetDelay:
		v, err := floatParam(cmd.Params, "delay_ms")
		if err != nil {
			a.log.Warning("receiver: set_delay command", "error", err.Error())
			return
		}
		if err := a.output.SetDelay(float32(v)); err != nil {
			a.log.Warning("receiver: set_delay failed", "error", err.Error())
		}

	case protocol.CommandRestart:
		a.output.StopStream()
		a.output.Disconnect()
		if err := a.output.Connect(); err != nil {
			a.log.Error("receiver: restart could not reconnect output", "error", err.Error())
			return
		}
		if err := a.output.StartStream(); err != nil {
			a.log.Error("receiver: restart could not restart stream", "error", err.Error())
			return
		}

	case protocol.CommandShutdown:
		go a.Stop()
		return

	case protocol.CommandCalibrate, protocol.CommandTestTone:
		a.runDiagnosticCapture(cmd.Params)

	default:
		a.log.Warning("receiver: unsupported command", "command", cmd.Command)
		return
	}

	a.PublishStatus()
}

func (a *Agent) runDiagnosticCapture(params map[string]interface{}) {
	path, _ := params["path"].(string)
	if path == "" {
		path = fmt.Sprintf("/tmp/sourcesync-%s-%d.wav", a.cfg.DeviceID, time.Now().UnixNano())
	}
	samples, channels, fs, err := a.mic.CaptureWindow(a.cfg.WCorr.Seconds())
	if err != nil {
		a.log.Warning("receiver: diagnostic capture failed", "error", err.Error())
		return
	}
	if err := dumpWAV(path, samples, channels, int(fs)); err != nil {
		a.log.Warning("receiver: could not write diagnostic capture", "path", path, "error", err.Error())
		return
	}
	a.log.Info("receiver: wrote diagnostic capture", "path", path)
}

// handleConfig applies a subset of known runtime tunables from an
// inbound ConfigUpdate — a documented reconfigure entry point rather
// than hidden attribute mutation (spec.md §9, "Dynamic config").
func (a *Agent) handleConfig(topic string, payload []byte) {
	var cu protocol.ConfigUpdate
	if errs := protocol.Decode(payload, &cu); len(errs) > 0 {
		a.log.Warning("receiver: dropped malformed config update", "errors", errs)
		return
	}
	if cu.DeviceID != "" && cu.DeviceID != a.cfg.DeviceID {
		return
	}
	if v, ok := cu.Config["signal_strength_dbm"].(float64); ok {
		a.cfg.SignalStrengthDBM = float32(v)
	}
	a.log.Info("receiver: applied config version", "version", cu.ConfigVersion)
}

func floatParam(params map[string]interface{}, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing %q parameter", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%q parameter must be a number", key)
	}
	return f, nil
}
