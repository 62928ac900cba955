// Command receiverd runs a single ReceiverAgent: it captures
// microphone audio, fetches reference audio from the transmitter,
// estimates drift, reports it, and honors inbound offsets and
// commands. Flag parsing, lumberjack-backed logging, and startup
// sequencing follow cmd/audio-netsender and cmd/looper.
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
	"github.com/google/uuid"

	"github.com/HunterSees/sourcesync/bus"
	"github.com/HunterSees/sourcesync/protocol"
	"github.com/HunterSees/sourcesync/receiver"
	"github.com/HunterSees/sourcesync/runtimecfg"
	"github.com/HunterSees/sourcesync/synclog"
)

func main() {
	configPath := flag.String("config", "/etc/sourcesync/receiverd.yaml", "Path to agent config file.")
	flag.Parse()

	cfg, err := runtimecfg.LoadAgentConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "receiverd: %v\n", err)
		os.Exit(1)
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}

	log := synclog.New(cfg.LogLevel, synclog.FileConfig{Path: cfg.LogPath})

	mqttBus := bus.NewMQTT(cfg.MQTTBrokerURL, "sourcesync-receiver-"+cfg.DeviceID, bus.DefaultBackoff())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	will := &bus.Will{
		Topic:   protocol.Topic(protocol.MsgStatus, cfg.DeviceID),
		Payload: []byte(fmt.Sprintf(`{"device_id":%q,"is_online":false}`, cfg.DeviceID)),
		QoS:     bus.QoSAtLeastOnce,
		Retain:  true,
	}
	if err := mqttBus.Connect(ctx, will); err != nil {
		cancel()
		log.Fatal("receiverd: could not connect to message bus", "error", err.Error())
	}
	cancel()

	output := newManualOutput()
	mic := newManualMic(44100, 1)
	fetcher := &remoteFetcher{bus: mqttBus, deviceID: cfg.DeviceID}

	agent := receiver.New(cfg.ReceiverConfig(), mqttBus, fetcher, mic, output, log)
	if err := agent.Start(context.Background()); err != nil {
		log.Fatal("receiverd: could not start agent", "error", err.Error())
	}

	if ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady); !ok {
		log.Debug("receiverd: systemd notification socket not present, continuing without it")
	}
	log.Info("receiverd: ready", "device_id", cfg.DeviceID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("receiverd: shutting down")
	agent.Stop()
	mqttBus.Disconnect()
}
