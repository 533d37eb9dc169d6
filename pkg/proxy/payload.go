package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	requestFieldModel    = "model"
	requestFieldStream   = "stream"
	requestFieldMetadata = "metadata"
	requestFieldUserID   = "user_id"
)

// PayloadView is what the pipeline needs to know about a request body.
// The zero value describes a body that could not be parsed.
type PayloadView struct {
	Model       string
	HasModel    bool
	Stream      bool
	HasMetadata bool

	// Parsed is the decoded object, or nil when the body was not a JSON object.
	Parsed map[string]any
}

func (v PayloadView) Valid() bool {
	return v.Parsed != nil
}

// InspectPayload never fails: anything that is not a single JSON object
// yields the zero view and the error explaining why.
func InspectPayload(body []byte) (PayloadView, error) {
	payload, err := decodeObject(body)
	if err != nil {
		return PayloadView{}, err
	}
	view := PayloadView{Parsed: payload}
	if model, ok := payload[requestFieldModel].(string); ok {
		view.Model = model
		view.HasModel = true
	}
	if stream, ok := payload[requestFieldStream].(bool); ok && stream {
		view.Stream = true
	}
	_, view.HasMetadata = payload[requestFieldMetadata]
	return view, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	// Keep numbers as written so a re-encoded body does not drift.
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	if payload == nil {
		return nil, errors.New("decode request body: not a json object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode request body: trailing data after json object")
	}
	return payload, nil
}
