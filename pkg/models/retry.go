package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RetryKind discriminates the tagged RetryStrategy union of spec.md §4.9,
// supplemented with Linear per original_source/src/config/tasks_config/task_retry_strategy.rs.
type RetryKind string

const (
	RetryKindConstant    RetryKind = "constant"
	RetryKindExponential RetryKind = "exponential"
	RetryKindLinear      RetryKind = "linear"
)

// RetryStrategy computes the delay before the next retry attempt.
type RetryStrategy struct {
	Kind RetryKind

	// Constant
	IntervalMS int64 `json:"intervalMs,omitempty"`

	// Exponential / Linear
	InitialMS     int64 `json:"initialMs,omitempty"`
	Multiplier  int   `json:"multiplier,omitempty"`
	IncrementMS   int64 `json:"incrementMs,omitempty"`
	MaxIntervalMS int64 `json:"maxIntervalMs,omitempty"`

	MaxAttempts int `json:"maxAttempts"`
}

// DefaultTaskRetryStrategy is applied when a tracker declares no retry
// policy of its own, per spec.md §4.9: "constant 3x at 1 min for tasks".
func DefaultTaskRetryStrategy() *RetryStrategy {
	return &RetryStrategy{
		Kind:        RetryKindConstant,
		IntervalMS:  60_000,
		MaxAttempts: 3,
	}
}

// Interval returns the delay before retry attempt n (0-indexed), grounded
// on task_retry_strategy.rs::interval's match arms.
func (r RetryStrategy) Interval(attempt int) time.Duration {
	switch r.Kind {
	case RetryKindConstant:
		return time.Duration(r.IntervalMS) * time.Millisecond
	case RetryKindExponential:
		mult := int64(1)
		for i := 0; i < attempt; i++ {
			mult *= int64(r.Multiplier)
			if mult <= 0 {
				mult = r.MaxIntervalMS
				break
			}
		}
		ms := r.InitialMS * mult
		if r.MaxIntervalMS > 0 && (ms > r.MaxIntervalMS || ms <= 0) {
			ms = r.MaxIntervalMS
		}
		return time.Duration(ms) * time.Millisecond
	case RetryKindLinear:
		ms := r.InitialMS + r.IncrementMS*int64(attempt)
		if r.MaxIntervalMS > 0 && ms > r.MaxIntervalMS {
			ms = r.MaxIntervalMS
		}
		return time.Duration(ms) * time.Millisecond
	default:
		return time.Minute
	}
}

func (r RetryStrategy) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type          string `json:"type"`
		IntervalMS    int64  `json:"intervalMs,omitempty"`
		InitialMS     int64  `json:"initialMs,omitempty"`
		Multiplier  int    `json:"multiplier,omitempty"`
		IncrementMS   int64  `json:"incrementMs,omitempty"`
		MaxIntervalMS int64  `json:"maxIntervalMs,omitempty"`
		MaxAttempts   int    `json:"maxAttempts"`
	}
	return json.Marshal(wire{
		Type:          string(r.Kind),
		IntervalMS:    r.IntervalMS,
		InitialMS:     r.InitialMS,
		Multiplier:  r.Multiplier,
		IncrementMS:   r.IncrementMS,
		MaxIntervalMS: r.MaxIntervalMS,
		MaxAttempts:   r.MaxAttempts,
	})
}

func (r *RetryStrategy) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Type          string `json:"type"`
		IntervalMS    int64  `json:"intervalMs"`
		InitialMS     int64  `json:"initialMs"`
		Multiplier  int    `json:"multiplier"`
		IncrementMS   int64  `json:"incrementMs"`
		MaxIntervalMS int64  `json:"maxIntervalMs"`
		MaxAttempts   int    `json:"maxAttempts"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	switch RetryKind(tagged.Type) {
	case RetryKindConstant, RetryKindExponential, RetryKindLinear:
	default:
		return fmt.Errorf("retryStrategy: unknown type %q", tagged.Type)
	}
	r.Kind = RetryKind(tagged.Type)
	r.IntervalMS = tagged.IntervalMS
	r.InitialMS = tagged.InitialMS
	r.Multiplier = tagged.Multiplier
	r.IncrementMS = tagged.IncrementMS
	r.MaxIntervalMS = tagged.MaxIntervalMS
	r.MaxAttempts = tagged.MaxAttempts
	return nil
}
