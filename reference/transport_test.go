package reference

import "testing"

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := Request{DurationS: 1.5, OffsetS: -0.2, Format: FormatJSON}
	body, requestID, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if requestID == "" {
		t.Fatal("expected a non-empty request id")
	}

	got, gotID, err := DecodeRequest(body)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if gotID != requestID {
		t.Errorf("got request id %q, want %q", gotID, requestID)
	}
	if got != req {
		t.Errorf("got %+v, want %+v", got, req)
	}
}

func TestEncodeResponseCarriesEitherErrorOrData(t *testing.T) {
	body, err := EncodeResponse("req-1", Response{}, &ServiceUnavailable{})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	wr, err := DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if wr.Error == "" {
		t.Error("expected the error field to be populated")
	}
	if wr.Samples != 0 {
		t.Error("expected no sample data alongside an error")
	}
}

func TestEncodeResponseSuccessCarriesData(t *testing.T) {
	resp := Response{Body: []byte{1, 2, 3, 4}, SampleRate: 44100, Channels: 1, Samples: 1, DurationS: 0.5}
	body, err := EncodeResponse("req-2", resp, nil)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	wr, err := DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if wr.Error != "" {
		t.Errorf("got error %q, want none", wr.Error)
	}
	if wr.SampleRate != 44100 || wr.Samples != 1 {
		t.Errorf("got %+v, want sample_rate=44100 samples=1", wr)
	}
}
