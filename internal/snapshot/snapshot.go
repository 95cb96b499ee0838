// Package snapshot persists fitted model parameter records as MessagePack
// envelopes, so a long-term synthesis can be re-applied later without
// refitting.
package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies which model variant produced a snapshot's payload.
type Kind string

const (
	KindOrdinaryLeastSquares   Kind = "ordinary_least_squares"
	KindOrthogonalLeastSquares Kind = "orthogonal_least_squares"
	KindMultipleLinear         Kind = "multiple_linear_regression"
	KindSimpleSpeedRatio       Kind = "simple_speed_ratio"
	KindSpeedSort              Kind = "speed_sort"
	KindShearAverage           Kind = "shear_average"
	KindShearTimeOfDay         Kind = "shear_time_of_day"
	KindShearBySector          Kind = "shear_by_sector"
)

// Envelope wraps a fitted parameter record with its origin and creation
// time.
type Envelope struct {
	Kind      Kind                `msgpack:"kind"`
	CreatedAt time.Time           `msgpack:"created_at"`
	Payload   msgpack.RawMessage  `msgpack:"payload"`
}

// Save writes a fitted parameter record to path.
func Save(path string, kind Kind, params interface{}) error {
	payload, err := msgpack.Marshal(params)
	if err != nil {
		return fmt.Errorf("snapshot: failed to encode parameters: %w", err)
	}
	env := Envelope{
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := msgpack.Marshal(&env)
	if err != nil {
		return fmt.Errorf("snapshot: failed to encode envelope: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot envelope from path. Decode the payload with
// Envelope.Decode once the kind has been inspected.
func Load(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("snapshot: failed to decode envelope: %w", err)
	}
	return &env, nil
}

// Decode unmarshals the payload into a parameter record matching the
// envelope's kind.
func (e *Envelope) Decode(v interface{}) error {
	if err := msgpack.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("snapshot: failed to decode %s payload: %w", e.Kind, err)
	}
	return nil
}
