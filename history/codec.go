package history

import (
	"encoding/json"

	"github.com/avasker/keel"
)

// Codec serializes opaque states and intents for persistence. Snapshots
// must round-trip through the codec; the log itself never inspects state
// or intent contents.
type Codec[S any] interface {
	EncodeState(state S) ([]byte, error)
	DecodeState(data []byte) (S, error)
	EncodeIntent(intent keel.Intent) ([]byte, error)
	DecodeIntent(data []byte) (keel.Intent, error)
}

// JSONCodec encodes states and intents as JSON. States decode back into
// S; intents decode into generic JSON forms (map[string]any, string,
// json-number), losing their concrete Go type. Applications that need
// typed intents back supply their own Codec.
type JSONCodec[S any] struct{}

func (JSONCodec[S]) EncodeState(state S) ([]byte, error) {
	return json.Marshal(state)
}

func (JSONCodec[S]) DecodeState(data []byte) (S, error) {
	var state S
	err := json.Unmarshal(data, &state)
	return state, err
}

func (JSONCodec[S]) EncodeIntent(intent keel.Intent) ([]byte, error) {
	return json.Marshal(intent)
}

func (JSONCodec[S]) DecodeIntent(data []byte) (keel.Intent, error) {
	var intent keel.Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, err
	}
	return intent, nil
}
