package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Envelope field names.
const (
	fieldTopic   = "topic"
	fieldTime    = "logMonoTime"
	fieldValid   = "valid"
	fieldPayload = "payload"
)

// Envelope wraps m in a protobuf Struct. The payload goes through its JSON
// form so any exported Go value can be carried; the nanosecond timestamp
// is a decimal string because it does not fit a double.
func Envelope(m Message) (*structpb.Struct, error) {
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode %s payload: %w", m.Topic, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("messaging: encode %s payload: %w", m.Topic, err)
	}
	payload, err := structpb.NewValue(generic)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode %s payload: %w", m.Topic, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldTopic:   structpb.NewStringValue(m.Topic),
		fieldTime:    structpb.NewStringValue(strconv.FormatUint(m.LogMonoTime, 10)),
		fieldValid:   structpb.NewBoolValue(m.Valid),
		fieldPayload: payload,
	}}, nil
}

// Encode returns the binary protobuf form of m.
func Encode(m Message) ([]byte, error) {
	env, err := Envelope(m)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(env)
}

// EncodeJSON returns the canonical JSON form of the envelope.
func EncodeJSON(m Message) ([]byte, error) {
	env, err := Envelope(m)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(env)
}

// Decode parses a binary envelope. The payload comes back in its generic
// form (maps, slices, float64, string, bool).
func Decode(b []byte) (Message, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(b, &env); err != nil {
		return Message{}, fmt.Errorf("messaging: decode envelope: %w", err)
	}
	return fromEnvelope(&env)
}

// DecodeJSON parses an envelope in the form EncodeJSON writes.
func DecodeJSON(b []byte) (Message, error) {
	var env structpb.Struct
	if err := protojson.Unmarshal(b, &env); err != nil {
		return Message{}, fmt.Errorf("messaging: decode envelope: %w", err)
	}
	return fromEnvelope(&env)
}

func fromEnvelope(env *structpb.Struct) (Message, error) {
	f := env.GetFields()
	topic := f[fieldTopic].GetStringValue()
	if topic == "" {
		return Message{}, fmt.Errorf("messaging: envelope has no %s", fieldTopic)
	}
	var ts uint64
	if raw := f[fieldTime].GetStringValue(); raw != "" {
		var err error
		ts, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return Message{}, fmt.Errorf("messaging: decode %s: %w", fieldTime, err)
		}
	}
	m := Message{
		Topic:       topic,
		LogMonoTime: ts,
		Valid:       f[fieldValid].GetBoolValue(),
	}
	if p, ok := f[fieldPayload]; ok {
		m.Payload = p.AsInterface()
	}
	return m, nil
}
