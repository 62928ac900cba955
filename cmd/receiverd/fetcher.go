package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/HunterSees/sourcesync/bus"
	"github.com/HunterSees/sourcesync/protocol"
	"github.com/HunterSees/sourcesync/reference"
)

// remoteFetcher implements receiver.ReferenceFetcher by requesting a
// window over the message bus and waiting for the matching response,
// correlated by request id (reference.WireRequest/WireResponse).
type remoteFetcher struct {
	bus      bus.Bus
	deviceID string

	once sync.Once
	mu   sync.Mutex
	wait map[string]chan reference.WireResponse
}

func (f *remoteFetcher) responseTopic() string {
	return fmt.Sprintf("%s/refresp/%s", protocol.Root, f.deviceID)
}

func (f *remoteFetcher) requestTopic() string {
	return fmt.Sprintf("%s/refreq/%s", protocol.Root, f.deviceID)
}

func (f *remoteFetcher) ensureSubscribed() {
	f.once.Do(func() {
		f.wait = make(map[string]chan reference.WireResponse)
		f.bus.Subscribe(f.responseTopic(), bus.QoSAtLeastOnce, func(topic string, payload []byte) {
			wr, err := reference.DecodeResponse(payload)
			if err != nil {
				return
			}
			f.mu.Lock()
			ch, ok := f.wait[wr.RequestID]
			if ok {
				delete(f.wait, wr.RequestID)
			}
			f.mu.Unlock()
			if ok {
				ch <- wr
			}
		})
	})
}

func (f *remoteFetcher) Fetch(ctx context.Context, req reference.Request) (reference.Response, error) {
	f.ensureSubscribed()

	body, requestID, err := reference.EncodeRequest(req)
	if err != nil {
		return reference.Response{}, err
	}

	ch := make(chan reference.WireResponse, 1)
	f.mu.Lock()
	f.wait[requestID] = ch
	f.mu.Unlock()

	if err := f.bus.Publish(ctx, f.requestTopic(), body, bus.QoSAtLeastOnce); err != nil {
		f.mu.Lock()
		delete(f.wait, requestID)
		f.mu.Unlock()
		return reference.Response{}, err
	}

	select {
	case wr := <-ch:
		if wr.Error != "" {
			return reference.Response{}, fmt.Errorf("reference: %s", wr.Error)
		}
		return reference.Response{
			Body:       wr.Body,
			SampleRate: wr.SampleRate,
			Channels:   wr.Channels,
			DurationS:  wr.Duration,
			Samples:    wr.Samples,
			StartTimeS: wr.StartTimeS,
			Short:      wr.Short,
		}, nil
	case <-ctx.Done():
		f.mu.Lock()
		delete(f.wait, requestID)
		f.mu.Unlock()
		return reference.Response{}, ctx.Err()
	}
}
