package messaging

import (
	"encoding/json"
	"fmt"
)

// GPSLocation is the payload of TopicGPSLocation and
// TopicGPSLocationExternal.
type GPSLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Bearing   float64 `json:"bearingDeg"`
	HasFix    bool    `json:"hasFix"`
}

// PandaState reports one vehicle link on TopicPandaStates.
type PandaState struct {
	Bus         uint8  `json:"bus"`
	Source      string `json:"source"`
	SafetyModel string `json:"safetyModel"`
	Received    uint64 `json:"received"`
}

// FrogpilotPlan is the part of the planner annotation the bridge reads.
type FrogpilotPlan struct {
	TogglesUpdated bool `json:"togglesUpdated"`
}

// DecodePayload returns payload as a T. In-process publishers hand over
// typed values; payloads that crossed the websocket bridge arrive in their
// generic JSON form and are converted.
func DecodePayload[T any](payload any) (T, error) {
	var out T
	switch p := payload.(type) {
	case nil:
		return out, fmt.Errorf("messaging: empty payload")
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, fmt.Errorf("messaging: empty payload")
		}
		return *p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("messaging: convert %T: %w", payload, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("messaging: convert %T: %w", payload, err)
	}
	return out, nil
}
