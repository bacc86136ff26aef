// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package generator

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/hierarchy"
	"github.com/absmach/fluxbench/internal/bufpool"
	"github.com/goccy/go-json"
)

// TimestampField is the payload field carrying the generation time in milliseconds.
const TimestampField = "timestamp_ms"

// valueRange holds half-open sampling bounds per value type. Float samples are divided
// by div when it is non-zero, which keeps very small magnitudes finely resolved.
type valueRange struct {
	lo, hi       float64
	div          float64
	intLo, intHi int64
}

var ranges = [...]valueRange{
	hierarchy.UnitNone:               {lo: 0, hi: 1, intLo: 0, intHi: 1},
	hierarchy.UnitDegreeC:            {lo: 0, hi: 1000, intLo: 0, intHi: 1000},
	hierarchy.UnitPercent:            {lo: 0, hi: 100, intLo: 0, intHi: 100},
	hierarchy.UnitPascal:             {lo: 100, hi: 10_000_000, intLo: 100, intHi: 10_000_000},
	hierarchy.UnitCubicMetersPerHour: {lo: 0, hi: 100, intLo: 0, intHi: 100},
	hierarchy.UnitVolt:               {lo: 0, hi: 1000, intLo: 0, intHi: 1000},
	hierarchy.UnitAmpere:             {lo: 0, hi: 1000, intLo: 0, intHi: 1000},
	hierarchy.UnitSievertPerHour:     {lo: 0, hi: 1e9, div: 1e9, intLo: 0, intHi: 1},
	hierarchy.UnitRotationsPerMinute: {lo: 0, hi: 1000, intLo: 0, intHi: 1000},
	hierarchy.UnitWatt:               {lo: 0, hi: 1_000_000, intLo: 0, intHi: 1_000_000},
	hierarchy.UnitSpeed:              {lo: 0, hi: 1000, intLo: 0, intHi: 1000},
}

// Range returns the half-open interval values of unit and type are sampled from.
// ok is false for combinations that cannot be synthesized.
func Range(u hierarchy.Unit, vt hierarchy.ValueType) (lo, hi float64, ok bool) {
	if int(u) >= len(ranges) {
		return 0, 0, false
	}
	r := ranges[u]
	switch vt {
	case hierarchy.TypeBoolean:
		if u.Physical() {
			return 0, 0, false
		}
		return 0, 2, true
	case hierarchy.TypeInt:
		return float64(r.intLo), float64(r.intHi), true
	case hierarchy.TypeFloat:
		if r.div != 0 {
			return r.lo / r.div, r.hi / r.div, true
		}
		return r.lo, r.hi, true
	default:
		return 0, 0, false
	}
}

// Value draws one sample for unit and type.
func Value(rng *rand.Rand, u hierarchy.Unit, vt hierarchy.ValueType) (any, error) {
	if int(u) >= len(ranges) {
		return nil, fmt.Errorf("%w: %d", hierarchy.ErrInvalidUnit, u)
	}
	r := ranges[u]
	switch vt {
	case hierarchy.TypeBoolean:
		if u.Physical() {
			return nil, ErrSkip
		}
		return rng.IntN(2) == 1, nil
	case hierarchy.TypeInt:
		return r.intLo + rng.Int64N(r.intHi-r.intLo), nil
	case hierarchy.TypeFloat:
		v := r.lo + rng.Float64()*(r.hi-r.lo)
		if r.div != 0 {
			v /= r.div
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %d", hierarchy.ErrInvalidType, vt)
	}
}

// Clock hands out strictly increasing nanosecond timestamps. It is shared by all
// workers of a pipeline so generated keys never collide.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock creates a clock reading now, or the wall clock when now is nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns a timestamp greater than any previously returned one.
func (c *Clock) Next() int64 {
	for {
		last := c.last.Load()
		n := c.now().UnixNano()
		if n <= last {
			n = last + 1
		}
		if c.last.CompareAndSwap(last, n) {
			return n
		}
	}
}

// Synthesizer turns topic records into messages. It is safe for concurrent use as long
// as each goroutine passes its own rand source.
type Synthesizer struct {
	split int
	clock *Clock
}

// NewSynthesizer creates a synthesizer that routes on the first split segments of a
// topic path. A nil clock uses the wall clock.
func NewSynthesizer(split int, clock *Clock) (*Synthesizer, error) {
	if split < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSplit, split)
	}
	if clock == nil {
		clock = NewClock(nil)
	}
	return &Synthesizer{split: split, clock: clock}, nil
}

// Split returns the configured split index.
func (s *Synthesizer) Split() int {
	return s.split
}

// Synthesize builds one message for rec. Records pairing a physical unit with a
// boolean value type return ErrSkip.
func (s *Synthesizer) Synthesize(rng *rand.Rand, rec TopicRecord) (Message, error) {
	cut := splitIndex(rec.Path, s.split)
	if cut < 0 {
		return Message{}, fmt.Errorf("%w: %d for %q", ErrInvalidSplit, s.split, rec.Path)
	}
	v, err := Value(rng, rec.Unit, rec.Type)
	if err != nil {
		return Message{}, err
	}

	ts := s.clock.Next()
	payload, err := encodePayload(rec.Unit.Field(), v, ts/int64(time.Millisecond))
	if err != nil {
		return Message{}, err
	}

	rest := rec.Path[cut+1:]
	key := make([]byte, 0, len(rest)+21)
	key = append(key, rest...)
	key = append(key, '.')
	key = strconv.AppendInt(key, ts, 10)

	return Message{
		Topic:   rec.Path[:cut],
		Key:     string(key),
		Payload: payload,
	}, nil
}

func encodePayload(field string, v any, tsMillis int64) ([]byte, error) {
	buf := bufpool.Get()
	enc := json.NewEncoder(buf)
	if err := enc.Encode(map[string]any{field: v, TimestampField: tsMillis}); err != nil {
		bufpool.Put(buf)
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bufpool.Detach(buf), nil
}
