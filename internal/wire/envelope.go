// Package wire defines the JSON message envelope spoken over the
// sensor channel and decodes inbound envelopes into a closed set of
// tagged message variants.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/scanline-systems/zonewatch/internal/scan"
)

// Kind discriminates the inbound message variants. Unrecognised
// envelope types decode to KindUnknown rather than an error so that
// newer sensors never crash an older console.
type Kind int

const (
	KindUnknown Kind = iota
	KindScan
	KindConfig
	KindStatus
	KindPong
	KindMeasurement
)

// String returns the envelope type string for the kind.
func (k Kind) String() string {
	switch k {
	case KindScan:
		return "scan"
	case KindConfig:
		return "config"
	case KindStatus:
		return "status"
	case KindPong:
		return "pong"
	case KindMeasurement:
		return "measurement"
	default:
		return "unknown"
	}
}

// Message is one decoded inbound envelope. Exactly the fields relevant
// to its Kind are populated; Raw always holds the original envelope
// bytes so measurement messages can be forwarded verbatim.
type Message struct {
	Kind Kind
	Type string // envelope type string as received

	Scan          *scan.RawFrame  // KindScan
	Config        json.RawMessage // KindConfig (opaque payload)
	Status        json.RawMessage // KindStatus (opaque payload)
	PongTimestamp float64         // KindPong: echoed send time, seconds since epoch

	Raw json.RawMessage
}

// envelope is the outermost JSON object of every channel message.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// scanPayload is the data object of a scan envelope. Layers are keyed
// by the decimal layer index.
type scanPayload struct {
	Timestamp  float64                       `json:"timestamp"`
	ScanNumber uint64                        `json:"scan_number"`
	Frequency  float64                       `json:"frequency"`
	Config     *scan.ScanConfig              `json:"config"`
	Layers     map[string]scan.RawLayerFrame `json:"layers"`
}

// Decode parses one inbound envelope. It returns an error only for
// malformed JSON; a well-formed envelope of unrecognised type decodes
// to KindUnknown. A scan envelope with a malformed data object is also
// an error; the caller logs and skips it without tearing the
// connection down.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	msg := Message{Type: env.Type, Raw: json.RawMessage(data)}
	switch env.Type {
	case "scan":
		var payload scanPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return Message{}, fmt.Errorf("decode scan payload: %w", err)
		}
		msg.Kind = KindScan
		msg.Scan = payloadToRawFrame(payload)
	case "config":
		msg.Kind = KindConfig
		msg.Config = env.Data
	case "status":
		msg.Kind = KindStatus
		msg.Status = env.Data
	case "pong":
		msg.Kind = KindPong
		msg.PongTimestamp = env.Timestamp
	case "measurement":
		msg.Kind = KindMeasurement
	default:
		msg.Kind = KindUnknown
	}
	return msg, nil
}

// payloadToRawFrame converts the wire scan payload into the
// reconstruction input. Layer keys that are not decimal indexes in
// range are dropped; the frame itself is always produced.
func payloadToRawFrame(payload scanPayload) *scan.RawFrame {
	raw := &scan.RawFrame{
		Timestamp:  payload.Timestamp,
		ScanNumber: payload.ScanNumber,
		Frequency:  payload.Frequency,
		Layers:     make(map[int]scan.RawLayerFrame, len(payload.Layers)),
	}
	if payload.Config != nil {
		raw.Config = *payload.Config
	}
	for key, lf := range payload.Layers {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= scan.NumLayers {
			continue
		}
		raw.Layers[idx] = lf
	}
	return raw
}

// GetStatus encodes the outbound status request command.
func GetStatus() []byte {
	return []byte(`{"type":"get_status"}`)
}

// Ping encodes the outbound ping probe carrying the send time so the
// sensor can echo it back in the pong.
func Ping(at time.Time) []byte {
	seconds := float64(at.UnixNano()) / 1e9
	out, _ := json.Marshal(map[string]interface{}{
		"type":      "ping",
		"timestamp": seconds,
	})
	return out
}
