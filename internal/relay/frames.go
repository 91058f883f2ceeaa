package relay

import (
	"encoding/json"
	"fmt"

	"github.com/futurepaul/dialog-final-v2/internal/note"
)

// Frame labels on the wire.
const (
	frameEvent   = "EVENT"
	frameReq     = "REQ"
	frameClose   = "CLOSE"
	frameOK      = "OK"
	frameEOSE    = "EOSE"
	frameNotice  = "NOTICE"
	frameNegOpen = "NEG-OPEN"
	frameNegMsg  = "NEG-MSG"
	frameNegErr  = "NEG-ERR"
)

// negPayload is the body of a NEG-MSG frame.
type negPayload struct {
	Need []string `json:"need"`
}

// encodeFrame marshals a wire frame: a JSON array whose first element is the
// frame label.
func encodeFrame(label string, parts ...any) ([]byte, error) {
	frame := append([]any{label}, parts...)
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", label, err)
	}
	return data, nil
}

// encodeEventFrame builds ["EVENT", <event>].
func encodeEventFrame(ev *note.Event) ([]byte, error) {
	return encodeFrame(frameEvent, ev)
}

// encodeReqFrame builds ["REQ", <sub>, <filter>].
func encodeReqFrame(subID string, f note.Filter) ([]byte, error) {
	return encodeFrame(frameReq, subID, f)
}

// encodeCloseFrame builds ["CLOSE", <sub>].
func encodeCloseFrame(subID string) ([]byte, error) {
	return encodeFrame(frameClose, subID)
}

// encodeNegOpenFrame builds ["NEG-OPEN", <sub>, <filter>, [[id, ts], ...]].
func encodeNegOpenFrame(subID string, f note.Filter, have []IDStamp) ([]byte, error) {
	fingerprints := make([][2]any, 0, len(have))
	for _, h := range have {
		fingerprints = append(fingerprints, [2]any{h.ID, h.CreatedAt})
	}
	return encodeFrame(frameNegOpen, subID, f, fingerprints)
}

// inboundFrame is a decoded relay-to-client frame.
type inboundFrame struct {
	Label string

	// EVENT
	SubID string
	Event note.Event

	// OK
	EventID  string
	Accepted bool
	Message  string

	// NEG-MSG
	Need []string

	// NEG-ERR / NOTICE
	Reason string
}

// parseFrame decodes one relay-to-client frame.
func parseFrame(data []byte) (inboundFrame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return inboundFrame{}, fmt.Errorf("malformed frame: %w", err)
	}
	if len(raw) == 0 {
		return inboundFrame{}, fmt.Errorf("empty frame")
	}

	var label string
	if err := json.Unmarshal(raw[0], &label); err != nil {
		return inboundFrame{}, fmt.Errorf("malformed frame label: %w", err)
	}
	fr := inboundFrame{Label: label}

	switch label {
	case frameEvent:
		if len(raw) < 3 {
			return fr, fmt.Errorf("EVENT frame needs subscription id and event")
		}
		if err := json.Unmarshal(raw[1], &fr.SubID); err != nil {
			return fr, fmt.Errorf("malformed EVENT subscription id: %w", err)
		}
		if err := json.Unmarshal(raw[2], &fr.Event); err != nil {
			return fr, fmt.Errorf("malformed EVENT payload: %w", err)
		}

	case frameOK:
		if len(raw) < 3 {
			return fr, fmt.Errorf("OK frame needs event id and status")
		}
		if err := json.Unmarshal(raw[1], &fr.EventID); err != nil {
			return fr, fmt.Errorf("malformed OK event id: %w", err)
		}
		if err := json.Unmarshal(raw[2], &fr.Accepted); err != nil {
			return fr, fmt.Errorf("malformed OK status: %w", err)
		}
		if len(raw) > 3 {
			_ = json.Unmarshal(raw[3], &fr.Message)
		}

	case frameEOSE:
		if len(raw) < 2 {
			return fr, fmt.Errorf("EOSE frame needs subscription id")
		}
		if err := json.Unmarshal(raw[1], &fr.SubID); err != nil {
			return fr, fmt.Errorf("malformed EOSE subscription id: %w", err)
		}

	case frameNegMsg:
		if len(raw) < 3 {
			return fr, fmt.Errorf("NEG-MSG frame needs subscription id and payload")
		}
		if err := json.Unmarshal(raw[1], &fr.SubID); err != nil {
			return fr, fmt.Errorf("malformed NEG-MSG subscription id: %w", err)
		}
		var payload negPayload
		if err := json.Unmarshal(raw[2], &payload); err != nil {
			return fr, fmt.Errorf("malformed NEG-MSG payload: %w", err)
		}
		fr.Need = payload.Need

	case frameNegErr:
		if len(raw) < 2 {
			return fr, fmt.Errorf("NEG-ERR frame needs subscription id")
		}
		if err := json.Unmarshal(raw[1], &fr.SubID); err != nil {
			return fr, fmt.Errorf("malformed NEG-ERR subscription id: %w", err)
		}
		if len(raw) > 2 {
			_ = json.Unmarshal(raw[2], &fr.Reason)
		}

	case frameNotice:
		if len(raw) > 1 {
			_ = json.Unmarshal(raw[1], &fr.Reason)
		}

	default:
		return fr, fmt.Errorf("unknown frame label %q", label)
	}

	return fr, nil
}
