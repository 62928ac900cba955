// Package receiver implements ReceiverAgent, the per-device loop that
// captures microphone audio, fetches reference audio, runs drift
// estimation, reports results, and applies offsets and commands
// (spec.md §4.D). Its lifecycle — New/Start/Stop, a WaitGroup-tracked
// set of goroutines, an idempotent Stop with a bounded wait, and an
// error-reporting channel — is grounded on revid.Revid.
package receiver

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/HunterSees/sourcesync/bus"
	"github.com/HunterSees/sourcesync/drift"
	"github.com/HunterSees/sourcesync/protocol"
	"github.com/HunterSees/sourcesync/reference"
	"github.com/HunterSees/sourcesync/synclog"
)

// recentDriftsWindow mirrors spec.md §6's recent_drifts_window default;
// the agent keeps its own short local history purely to populate the
// avg_drift_ms/drift_variance fields of its own DriftReport (spec.md
// §6) — authoritative smoothing still happens at the controller in
// devicestate.State.
const recentDriftsWindow = 10

// Config holds one ReceiverAgent's static identity and tunables
// (spec.md §4.D, §6).
type Config struct {
	DeviceID     string
	DeviceName   string
	DeviceType   protocol.DeviceType
	Location     string
	SyncGroup    string
	BaseLatencyMS float32
	Capabilities []string
	Version      string
	IPAddress    string

	PDrift                time.Duration // default 5s.
	WCorr                 time.Duration // default 2s.
	PHb                   time.Duration // default 30s.
	PStatus               time.Duration // default 30s.
	ReferenceOffsetS      float64       // default -0.5.
	ReferenceFetchTimeout time.Duration // default 5s.
	SignalStrengthDBM     float32       // default -50.

	Drift drift.Config
}

// DefaultConfig returns the spec's documented defaults for a device of
// the given identity.
func DefaultConfig(deviceID, deviceName string, deviceType protocol.DeviceType) Config {
	return Config{
		DeviceID:              deviceID,
		DeviceName:            deviceName,
		DeviceType:            deviceType,
		SyncGroup:             "default",
		Version:               "1.0",
		Capabilities:          []string{},
		PDrift:                5 * time.Second,
		WCorr:                 2 * time.Second,
		PHb:                   30 * time.Second,
		PStatus:               30 * time.Second,
		ReferenceOffsetS:      -0.5,
		ReferenceFetchTimeout: 5 * time.Second,
		SignalStrengthDBM:     -50,
		Drift:                 drift.DefaultConfig(),
	}
}

// Agent is a long-running per-device synchronization loop.
type Agent struct {
	cfg       Config
	bus       bus.Bus
	ref       ReferenceFetcher
	mic       MicCapture
	output    AVOutput
	log       synclog.Logger
	estimator *drift.Estimator

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	err      chan error

	mu                 sync.Mutex
	lastAccepted       *float32
	recentDrifts       []float64
	measurementCount   uint32
	failedMeasurements uint32
	heartbeatSeq       uint32
	volumeBeforeMute   float32

	resyncNow chan struct{}
}

// New returns an Agent ready to Start.
func New(cfg Config, b bus.Bus, ref ReferenceFetcher, mic MicCapture, output AVOutput, log synclog.Logger) *Agent {
	return &Agent{
		cfg:       cfg,
		bus:       b,
		ref:       ref,
		mic:       mic,
		output:    output,
		log:       log,
		estimator: drift.New(cfg.Drift),
		stop:      make(chan struct{}),
		err:       make(chan error, 1),
		resyncNow: make(chan struct{}, 1),
	}
}

// Start connects the output stage, registers with the bus, subscribes
// to inbound topics, and launches the agent's cooperating loops. It
// returns once registration succeeds; the loops keep running until
// Stop.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.output.Connect(); err != nil {
		return fmt.Errorf("receiver: could not connect output: %w", err)
	}
	if err := a.output.StartStream(); err != nil {
		return fmt.Errorf("receiver: could not start output stream: %w", err)
	}

	if err := a.bus.Subscribe(protocol.Topic(protocol.MsgBufferOffset, a.cfg.DeviceID), bus.QoSAtLeastOnce, a.handleBufferOffset); err != nil {
		return fmt.Errorf("receiver: could not subscribe to buffer_offset: %w", err)
	}
	if err := a.bus.Subscribe(protocol.Topic(protocol.MsgCommand, a.cfg.DeviceID), bus.QoSAtLeastOnce, a.handleCommand); err != nil {
		return fmt.Errorf("receiver: could not subscribe to command: %w", err)
	}
	if err := a.bus.Subscribe(protocol.Topic(protocol.MsgCommand, protocol.AllTarget), bus.QoSAtLeastOnce, a.handleCommand); err != nil {
		return fmt.Errorf("receiver: could not subscribe to broadcast command: %w", err)
	}
	if err := a.bus.Subscribe(protocol.Topic(protocol.MsgConfig, a.cfg.DeviceID), bus.QoSAtLeastOnce, a.handleConfig); err != nil {
		return fmt.Errorf("receiver: could not subscribe to config: %w", err)
	}

	if err := a.register(ctx); err != nil {
		return err
	}

	a.wg.Add(3)
	go a.driftLoop()
	go a.heartbeatLoop()
	go a.statusLoop()

	return nil
}

// Stop idempotently signals every loop to exit and waits up to 5s for
// them to finish, then tears down the output stage (spec.md §5,
// "stop() on any component is idempotent and awaits in-flight work
// with a 5s bound before forcing termination").
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		a.log.Warning("receiver: loops did not exit within 5s, forcing shutdown")
	}

	a.output.StopStream()
	a.output.Disconnect()
}

// Errors returns the agent's error channel (spec.md §7). The agent's
// loops log their failures rather than sending them here; nothing in
// Agent sends on this channel.
func (a *Agent) Errors() <-chan error { return a.err }

func (a *Agent) register(ctx context.Context) error {
	reg := protocol.DeviceRegister{
		DeviceID:      a.cfg.DeviceID,
		DeviceName:    a.cfg.DeviceName,
		DeviceType:    a.cfg.DeviceType,
		Location:      a.cfg.Location,
		BaseLatencyMS: a.cfg.BaseLatencyMS,
		SyncGroup:     a.cfg.SyncGroup,
		Capabilities:  a.cfg.Capabilities,
		Version:       a.cfg.Version,
		IPAddress:     a.cfg.IPAddress,
	}.WithDefaults()
	if errs := reg.Validate(); len(errs) > 0 {
		return fmt.Errorf("receiver: invalid registration: %v", errs)
	}
	b, err := protocol.Encode(&reg)
	if err != nil {
		return err
	}
	return a.bus.Publish(ctx, protocol.Topic(protocol.MsgRegister, a.cfg.DeviceID), b, bus.QoSAtLeastOnce)
}

func (a *Agent) driftLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.PDrift)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-a.resyncNow:
			a.runDriftPass()
		case <-ticker.C:
			a.runDriftPass()
		}
	}
}

func (a *Agent) runDriftPass() {
	micSamples, micChannels, fs, err := a.mic.CaptureWindow(a.cfg.WCorr.Seconds())
	if err != nil {
		a.log.Warning("receiver: mic capture failed", "error", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ReferenceFetchTimeout)
	defer cancel()
	resp, err := a.ref.Fetch(ctx, reference.Request{
		DurationS: a.cfg.WCorr.Seconds(),
		OffsetS:   a.cfg.ReferenceOffsetS,
		Format:    reference.FormatRawF32LE,
	})
	if err != nil {
		a.log.Warning("receiver: reference fetch failed", "error", err.Error())
		return
	}
	refSamples := decodeRawF32LE(resp.Body)

	a.mu.Lock()
	lastAccepted := a.lastAccepted
	a.mu.Unlock()

	sample, err := a.estimator.Estimate(toFloat64(micSamples), toFloat64(refSamples), micChannels, int(resp.Channels), fs, lastAccepted)
	if err != nil {
		a.mu.Lock()
		a.failedMeasurements++
		a.mu.Unlock()
		if _, ok := err.(*drift.RejectedError); ok {
			a.log.Debug("receiver: drift measurement rejected", "error", err.Error())
		} else {
			a.log.Warning("receiver: drift estimation failed", "error", err.Error())
		}
		return
	}

	a.mu.Lock()
	a.lastAccepted = &sample.DriftMS
	a.measurementCount++
	a.recentDrifts = append(a.recentDrifts, float64(sample.DriftMS))
	if len(a.recentDrifts) > recentDriftsWindow {
		a.recentDrifts = a.recentDrifts[len(a.recentDrifts)-recentDriftsWindow:]
	}
	avg := stat.Mean(a.recentDrifts, nil)
	var variance float64
	if len(a.recentDrifts) >= 2 {
		variance = stat.Variance(a.recentDrifts, nil)
	}
	count := a.measurementCount
	a.mu.Unlock()

	report := protocol.DriftReport{
		DeviceID:         a.cfg.DeviceID,
		DriftMS:          sample.DriftMS,
		Correlation:      sample.Correlation,
		SignalStrength:   a.cfg.SignalStrengthDBM,
		MeasurementTime:  protocol.NowUnix(time.Now()),
		MeasurementCount: count,
		AvgDriftMS:       float32(avg),
		DriftVariance:    float32(variance),
	}
	b, err := protocol.Encode(&report)
	if err != nil {
		a.log.Error("receiver: could not encode drift report", "error", err.Error())
		return
	}
	pctx, pcancel := context.WithTimeout(context.Background(), a.cfg.ReferenceFetchTimeout)
	defer pcancel()
	if err := a.bus.Publish(pctx, protocol.Topic(protocol.MsgDrift, a.cfg.DeviceID), b, bus.QoSAtLeastOnce); err != nil {
		a.log.Warning("receiver: could not publish drift report", "error", err.Error())
	}
}

func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.PHb)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.sendHeartbeat()
		}
	}
}

func (a *Agent) sendHeartbeat() {
	a.mu.Lock()
	a.heartbeatSeq++
	seq := a.heartbeatSeq
	a.mu.Unlock()

	hb := protocol.Heartbeat{DeviceID: a.cfg.DeviceID, Timestamp: protocol.NowUnix(time.Now()), Sequence: seq}
	b, err := protocol.Encode(&hb)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ReferenceFetchTimeout)
	defer cancel()
	_ = a.bus.Publish(ctx, protocol.Topic(protocol.MsgHeartbeat, a.cfg.DeviceID), b, bus.QoSAtMostOnce)
}

func (a *Agent) statusLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.PStatus)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.PublishStatus()
		}
	}
}

// PublishStatus sends a DeviceStatus immediately. Command handlers call
// this after a state change, on top of the periodic tick
// (spec.md §4.D, "send DeviceStatus on change or every P_status").
func (a *Agent) PublishStatus() {
	status := a.output.Status()

	a.mu.Lock()
	var lastDrift float32
	if a.lastAccepted != nil {
		lastDrift = *a.lastAccepted
	}
	a.mu.Unlock()

	ds := protocol.DeviceStatus{
		DeviceID:        a.cfg.DeviceID,
		IsOnline:        true,
		IsPlaying:       status.Playing,
		IsMuted:         status.Muted,
		Volume:          status.Volume,
		CurrentOffsetMS: status.DelayMS,
		CPUUsage:        status.CPUUsage,
		MemoryUsage:     status.MemUsage,
		Temperature:     status.TempC,
		LastDriftMS:     lastDrift,
		Timestamp:       protocol.NowUnix(time.Now()),
	}
	b, err := protocol.Encode(&ds)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ReferenceFetchTimeout)
	defer cancel()
	_ = a.bus.Publish(ctx, protocol.Topic(protocol.MsgStatus, a.cfg.DeviceID), b, bus.QoSAtMostOnce)
}

func (a *Agent) handleBufferOffset(topic string, payload []byte) {
	var bo protocol.BufferOffset
	if errs := protocol.Decode(payload, &bo); len(errs) > 0 {
		a.log.Warning("receiver: dropped malformed buffer_offset", "errors", errs)
		return
	}
	if err := a.output.SetDelay(bo.OffsetMS); err != nil {
		a.log.Warning("receiver: could not apply offset", "error", err.Error())
	}
}

func decodeRawF32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
