package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertTemperature(t *testing.T) {
	f, err := Convert(100, DegreeC, DegreeF)
	require.NoError(t, err)
	assert.InDelta(t, 212.0, f, 1e-9)

	c, err := Convert(32, DegreeF, DegreeC)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, c, 1e-9)
}

func TestConvertSpeed(t *testing.T) {
	kmh, err := Convert(10, MeterPerSecond, KmPerHour)
	require.NoError(t, err)
	assert.InDelta(t, 36.0, kmh, 1e-9)

	ms, err := Convert(36, KmPerHour, MeterPerSecond)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, ms, 1e-9)
}

func TestConvertAcrossGroupsFails(t *testing.T) {
	_, err := Convert(1, DegreeC, Mm)
	require.ErrorIs(t, err, ErrUnconvertible)

	_, err = Convert(1, Unit("furlong"), Mm)
	require.ErrorIs(t, err, ErrUnconvertible)
}

func TestStandardUnit(t *testing.T) {
	u, err := StandardUnit(US, "outTemp")
	require.NoError(t, err)
	assert.Equal(t, DegreeF, u)

	u, err = StandardUnit(MetricWX, "windSpeed")
	require.NoError(t, err)
	assert.Equal(t, MeterPerSecond, u)

	u, err = StandardUnit(Metric, "outHumidity")
	require.NoError(t, err)
	assert.Equal(t, Percent, u)

	_, err = StandardUnit(System(42), "outTemp")
	require.ErrorIs(t, err, ErrUnknownUnitSystem)

	_, err = StandardUnit(Metric, "noSuchObs")
	require.ErrorIs(t, err, ErrUnconvertible)
}

func TestConvertStd(t *testing.T) {
	v := 1.0
	got, err := ConvertStd(&v, "rain", Metric, MetricWX)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 10.0, *got, 1e-9)

	got, err = ConvertStd(nil, "rain", Metric, US)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSystemValid(t *testing.T) {
	assert.True(t, US.Valid())
	assert.True(t, Metric.Valid())
	assert.True(t, MetricWX.Valid())
	assert.False(t, Unknown.Valid())
	assert.Equal(t, "METRICWX", MetricWX.String())
}

func TestParseSystem(t *testing.T) {
	for name, want := range map[string]System{"US": US, "metric": Metric, " MetricWX ": MetricWX} {
		got, err := ParseSystem(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSystem("imperial")
	assert.ErrorIs(t, err, ErrUnknownUnitSystem)
}
