// Command transmitterd runs the SourceSync synchronization control
// plane: the rolling reference AudioRing, the ReferenceService that
// exposes it, the SyncController that keeps registered receivers
// converged, and the MQTT-backed MessageBus wiring the pieces to
// receivers. Its flag parsing, lumberjack-backed logging, and startup
// sequencing follow cmd/looper and cmd/audio-netsender.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"

	"github.com/HunterSees/sourcesync/audioring"
	"github.com/HunterSees/sourcesync/bus"
	"github.com/HunterSees/sourcesync/protocol"
	"github.com/HunterSees/sourcesync/reference"
	"github.com/HunterSees/sourcesync/runtime"
	"github.com/HunterSees/sourcesync/runtimecfg"
	"github.com/HunterSees/sourcesync/sync"
	"github.com/HunterSees/sourcesync/synclog"
)

func main() {
	configPath := flag.String("config", "/etc/sourcesync/transmitterd.yaml", "Path to controller config file.")
	flag.Parse()

	cfg, err := runtimecfg.LoadControllerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transmitterd: %v\n", err)
		os.Exit(1)
	}

	log := synclog.New(cfg.LogLevel, synclog.FileConfig{Path: cfg.LogPath})

	ring := audioring.New(cfg.SampleRate, cfg.Channels, cfg.BufferSeconds)
	refSvc := reference.New(ring, cfg.BufferSeconds)

	events := make(chan sync.Event, 256)
	controller := sync.New(cfg.SyncConfig(), nil, events)

	mqttBus := bus.NewMQTT(cfg.MQTTBrokerURL, cfg.MQTTClientID, bus.DefaultBackoff())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	will := &bus.Will{
		Topic:   protocol.Topic(protocol.MsgStatus, protocol.AllTarget),
		Payload: []byte(`{"is_online":false}`),
		QoS:     bus.QoSAtLeastOnce,
		Retain:  true,
	}
	if err := mqttBus.Connect(ctx, will); err != nil {
		cancel()
		log.Fatal("could not connect to message bus", "error", err.Error())
	}
	cancel()

	rt := runtime.New(mqttBus, controller, ring, nil)

	subscribeInbound(rt, log)
	subscribeReferenceRequests(rt, refSvc, log)
	go publishOffsets(rt, events, log)
	go runSweepLoop(rt.Controller, cfg, log)
	go publishSyncStatus(rt, log)

	if ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady); !ok {
		log.Debug("transmitterd: systemd notification socket not present, continuing without it")
	}
	log.Info("transmitterd: ready", "broker", cfg.MQTTBrokerURL)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("transmitterd: shutting down")
	mqttBus.Disconnect()
}

// subscribeInbound wires every receiver-to-transmitter topic into the
// controller (spec.md §4.H).
func subscribeInbound(rt *runtime.Runtime, log synclog.Logger) {
	driftPattern := fmt.Sprintf("%s/%s/+", protocol.Root, protocol.MsgDrift)
	registerPattern := fmt.Sprintf("%s/%s/+", protocol.Root, protocol.MsgRegister)

	rt.Bus.Subscribe(driftPattern, bus.QoSAtLeastOnce, func(topic string, payload []byte) {
		_, id, err := protocol.ParseTopic(topic)
		if err != nil {
			log.Warning("transmitterd: could not parse topic", "topic", topic, "error", err.Error())
			return
		}
		var dr protocol.DriftReport
		if errs := protocol.Decode(payload, &dr); len(errs) > 0 {
			log.Warning("transmitterd: dropped malformed drift report", "device", id, "errors", errs)
			return
		}
		if err := rt.Controller.UpdateDeviceDrift(id, dr.DriftMS, dr.Correlation, dr.SignalStrength, time.Now()); err != nil {
			log.Debug("transmitterd: drift update rejected", "device", id, "error", err.Error())
		}
	})

	rt.Bus.Subscribe(registerPattern, bus.QoSAtLeastOnce, func(topic string, payload []byte) {
		_, id, err := protocol.ParseTopic(topic)
		if err != nil {
			log.Warning("transmitterd: could not parse topic", "topic", topic, "error", err.Error())
			return
		}
		var reg protocol.DeviceRegister
		if errs := protocol.Decode(payload, &reg); len(errs) > 0 {
			log.Warning("transmitterd: dropped malformed registration", "device", id, "errors", errs)
			return
		}
		rt.Controller.RegisterDevice(id, sync.DeviceConfig{BaseLatencyMS: reg.BaseLatencyMS, SyncGroup: reg.SyncGroup})
		log.Info("transmitterd: registered device", "device", id, "group", reg.SyncGroup)
	})
}

// subscribeReferenceRequests serves reference.Service fetches over the
// bus for receivers running in a separate process, correlated by
// request id (spec.md §6, "Reference-audio request/response").
func subscribeReferenceRequests(rt *runtime.Runtime, refSvc *reference.Service, log synclog.Logger) {
	pattern := fmt.Sprintf("%s/refreq/+", protocol.Root)
	rt.Bus.Subscribe(pattern, bus.QoSAtLeastOnce, func(topic string, payload []byte) {
		deviceID := topic[len(protocol.Root)+len("/refreq/"):]

		req, requestID, err := reference.DecodeRequest(payload)
		if err != nil {
			log.Warning("transmitterd: could not decode reference request", "error", err.Error())
			return
		}

		resp, fetchErr := refSvc.Fetch(req)
		body, err := reference.EncodeResponse(requestID, resp, fetchErr)
		if err != nil {
			log.Warning("transmitterd: could not encode reference response", "error", err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		respTopic := fmt.Sprintf("%s/refresp/%s", protocol.Root, deviceID)
		if err := rt.Bus.Publish(ctx, respTopic, body, bus.QoSAtLeastOnce); err != nil {
			log.Warning("transmitterd: could not publish reference response", "error", err.Error())
		}
	})
}

// publishOffsets drains the controller's event stream and, for every
// EventOffsetApplied, publishes a BufferOffset on
// syncstream/buffer_offset/<id> so the affected receiver can apply it
// (spec.md §4.F step 6, §4.H). Other event kinds are logged only.
func publishOffsets(rt *runtime.Runtime, events <-chan sync.Event, log synclog.Logger) {
	for ev := range events {
		if ev.Kind != sync.EventOffsetApplied {
			log.Debug("transmitterd: event", "kind", ev.Kind, "device", ev.DeviceID, "group", ev.Group)
			continue
		}

		bo := protocol.BufferOffset{
			DeviceID:  ev.DeviceID,
			OffsetMS:  ev.OffsetMS,
			Timestamp: protocol.NowUnix(ev.Timestamp),
			SyncGroup: ev.Group,
		}
		body, err := protocol.Encode(&bo)
		if err != nil {
			log.Warning("transmitterd: could not encode buffer offset", "device", ev.DeviceID, "error", err.Error())
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rt.Bus.Publish(ctx, protocol.Topic(protocol.MsgBufferOffset, ev.DeviceID), body, bus.QoSAtLeastOnce)
		cancel()
		if err != nil {
			log.Warning("transmitterd: could not publish buffer offset", "device", ev.DeviceID, "error", err.Error())
			continue
		}
		log.Debug("transmitterd: published buffer offset", "device", ev.DeviceID, "offset_ms", ev.OffsetMS)
	}
}

func runSweepLoop(controller *sync.Controller, cfg runtimecfg.ControllerConfig, log synclog.Logger) {
	interval := time.Duration(cfg.SweepIntervalSeconds * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if timedOut := controller.SweepOffline(); len(timedOut) > 0 {
			log.Info("transmitterd: marked offline", "devices", timedOut)
		}
	}
}

func publishSyncStatus(rt *runtime.Runtime, log synclog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snap := rt.Controller.Snapshot()
		status := protocol.SyncStatus{
			SyncGroups:  snap.Groups,
			DeviceCount: len(snap.Devices),
			SyncEvents:  snap.Adjustments,
			Timestamp:   protocol.NowUnix(time.Now()),
		}
		for _, d := range snap.Devices {
			if d.Online {
				status.OnlineDevices++
			}
		}
		b, err := protocol.Encode(&status)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.Bus.Publish(ctx, protocol.Topic(protocol.MsgSyncStatus, ""), b, bus.QoSAtMostOnce); err != nil {
			log.Debug("transmitterd: could not publish sync_status", "error", err.Error())
		}
		cancel()
	}
}
