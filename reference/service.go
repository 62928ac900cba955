// Package reference implements ReferenceService, a request/response
// wrapper around an audioring.Ring that serves historical windows to
// receivers for drift measurement (spec.md §4.B). The request/response
// shape mirrors protocol/rtsp.Client's method-and-response pattern,
// generalized from RTSP's DESCRIBE/SETUP verbs to a single "fetch a
// window" verb.
package reference

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/HunterSees/sourcesync/audioring"
)

// Format selects how Response encodes Samples.
type Format string

const (
	FormatRawF32LE Format = "raw_f32le"
	FormatJSON     Format = "json"
)

// Request is a fetch request for a window of reference audio.
type Request struct {
	DurationS float64
	OffsetS   float64
	Format    Format
}

// Response carries the requested window, already encoded per
// Request.Format, plus the metadata headers a streaming transport
// would carry alongside the body.
type Response struct {
	Body       []byte
	SampleRate uint
	Channels   uint
	DurationS  float64
	Samples    uint
	StartTimeS float64
	Short      bool
}

// BadRequest is returned for a malformed Request (spec.md §4.B).
type BadRequest struct{ Reason string }

func (e *BadRequest) Error() string { return fmt.Sprintf("reference: bad request: %s", e.Reason) }

// ServiceUnavailable is returned when the ring has nothing written yet.
type ServiceUnavailable struct{}

func (e *ServiceUnavailable) Error() string { return "reference: service unavailable: ring is empty" }

// Service exposes a Ring over Fetch.
type Service struct {
	ring          *audioring.Ring
	bufferSeconds float64
}

// New returns a Service backed by ring. bufferSeconds must match the
// capacity ring was constructed with, so oversized requests can be
// rejected without querying the ring.
func New(ring *audioring.Ring, bufferSeconds float64) *Service {
	return &Service{ring: ring, bufferSeconds: bufferSeconds}
}

// Fetch serves req against the underlying ring.
func (s *Service) Fetch(req Request) (Response, error) {
	if req.DurationS <= 0 {
		return Response{}, &BadRequest{Reason: "duration must be > 0"}
	}
	if req.DurationS > s.bufferSeconds {
		return Response{}, &BadRequest{Reason: "duration exceeds buffer_seconds"}
	}

	info := s.ring.Info()
	if info.SamplesWritten == 0 {
		return Response{}, &ServiceUnavailable{}
	}

	win, err := s.ring.Read(req.DurationS, req.OffsetS)
	if err != nil {
		return Response{}, &BadRequest{Reason: err.Error()}
	}

	format := req.Format
	if format == "" {
		format = FormatRawF32LE
	}

	var body []byte
	switch format {
	case FormatRawF32LE:
		body = encodeRawF32LE(win.Samples)
	case FormatJSON:
		body, err = json.Marshal(win.Samples)
		if err != nil {
			return Response{}, fmt.Errorf("reference: could not encode JSON body: %w", err)
		}
	default:
		return Response{}, &BadRequest{Reason: fmt.Sprintf("unrecognized format %q", format)}
	}

	return Response{
		Body:       body,
		SampleRate: win.SampleRate,
		Channels:   win.Channels,
		DurationS:  req.DurationS,
		Samples:    win.FrameCount,
		StartTimeS: win.StartTimeS,
		Short:      win.Short,
	}, nil
}

func encodeRawF32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		bits := math.Float32bits(s)
		out[i*4+0] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}
