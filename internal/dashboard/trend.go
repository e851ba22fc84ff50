package dashboard

import (
	"context"
	"fmt"

	"github.com/gjr80/weewx-utilities/internal/units"
	"github.com/gjr80/weewx-utilities/internal/weather"
)

// RecordLookup finds the archive record closest to ts, at most grace seconds
// away. A miss may be reported as a nil record or as an error.
type RecordLookup interface {
	GetRecord(ctx context.Context, ts, grace int64) (*weather.Record, error)
}

// Value is a nullable number tagged with its unit.
type Value struct {
	Value *float64
	Unit  units.Unit
}

// Trend returns the change in obs between the archive record at ref and
// current, expressed in target. It returns nil when current is null, when no
// record is found within grace or the lookup fails, and when the record does
// not carry obs. Only unit mismatches are reported as errors.
func Trend(ctx context.Context, obs string, current Value, target units.Unit, lookup RecordLookup, ref, grace int64) (*float64, error) {
	if current.Value == nil || lookup == nil {
		return nil, nil
	}
	then, err := lookup.GetRecord(ctx, ref, grace)
	if err != nil || then == nil {
		return nil, nil
	}
	thenValue, ok := then.Get(obs)
	if !ok || thenValue == nil {
		return nil, nil
	}
	thenUnit, err := units.StandardUnit(then.UnitSystem, obs)
	if err != nil {
		return nil, fmt.Errorf("trend %s: %w", obs, err)
	}

	now, err := units.Convert(*current.Value, current.Unit, target)
	if err != nil {
		return nil, fmt.Errorf("trend %s: %w", obs, err)
	}
	past, err := units.Convert(*thenValue, thenUnit, target)
	if err != nil {
		return nil, fmt.Errorf("trend %s: %w", obs, err)
	}
	d := now - past
	return &d, nil
}
