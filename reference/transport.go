package reference

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// WireRequest is the JSON body carried on a reference fetch request
// topic. The reference-audio transport is named only at its interface
// to the core (spec.md §1); this is one concrete realization of the
// request/response shape described in spec.md §6, carried over
// whatever pub/sub bus the deployment already has rather than a
// separate RPC channel.
type WireRequest struct {
	RequestID string  `json:"request_id"`
	Duration  float64 `json:"duration"`
	Offset    float64 `json:"offset"`
	Format    Format  `json:"format"`
}

// WireResponse is the JSON body carried on the matching response
// topic. Exactly one of Error or the data fields is populated.
type WireResponse struct {
	RequestID  string  `json:"request_id"`
	Error      string  `json:"error,omitempty"`
	Body       []byte  `json:"body,omitempty"`
	SampleRate uint    `json:"sample_rate"`
	Channels   uint    `json:"channels"`
	Duration   float64 `json:"duration"`
	Samples    uint    `json:"samples"`
	StartTimeS float64 `json:"start_time_s"`
	Short      bool    `json:"short"`
}

// EncodeRequest assigns req a fresh request id and marshals it.
func EncodeRequest(req Request) (body []byte, requestID string, err error) {
	requestID = uuid.NewString()
	body, err = json.Marshal(WireRequest{RequestID: requestID, Duration: req.DurationS, Offset: req.OffsetS, Format: req.Format})
	return body, requestID, err
}

// DecodeRequest is the inverse of EncodeRequest.
func DecodeRequest(b []byte) (Request, string, error) {
	var wr WireRequest
	if err := json.Unmarshal(b, &wr); err != nil {
		return Request{}, "", fmt.Errorf("reference: malformed request: %w", err)
	}
	return Request{DurationS: wr.Duration, OffsetS: wr.Offset, Format: wr.Format}, wr.RequestID, nil
}

// EncodeResponse marshals either resp or fetchErr (never both) tagged
// with requestID.
func EncodeResponse(requestID string, resp Response, fetchErr error) ([]byte, error) {
	wr := WireResponse{RequestID: requestID}
	if fetchErr != nil {
		wr.Error = fetchErr.Error()
	} else {
		wr.Body = resp.Body
		wr.SampleRate = resp.SampleRate
		wr.Channels = resp.Channels
		wr.Duration = resp.DurationS
		wr.Samples = resp.Samples
		wr.StartTimeS = resp.StartTimeS
		wr.Short = resp.Short
	}
	return json.Marshal(wr)
}

// DecodeResponse is the inverse of EncodeResponse.
func DecodeResponse(b []byte) (WireResponse, error) {
	var wr WireResponse
	err := json.Unmarshal(b, &wr)
	return wr, err
}
