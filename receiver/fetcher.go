package receiver

import (
	"context"

	"github.com/HunterSees/sourcesync/reference"
)

// ReferenceFetcher abstracts fetching a reference.Response, whatever
// the transport between this receiver and the transmitter's
// ReferenceService turns out to be (spec.md §1 names reference-audio
// transport as an external collaborator of the core). Fetches time out
// at 5s per spec.md §5.
type ReferenceFetcher interface {
	Fetch(ctx context.Context, req reference.Request) (reference.Response, error)
}

// LocalFetcher calls a reference.Service in-process, for deployments
// where the receiver and transmitter share a runtime (tests, or a
// single-box setup).
type LocalFetcher struct {
	Service *reference.Service
}

func (f *LocalFetcher) Fetch(ctx context.Context, req reference.Request) (reference.Response, error) {
	type result struct {
		resp reference.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := f.Service.Fetch(req)
		done <- result{resp, err}
	}()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return reference.Response{}, ctx.Err()
	}
}
