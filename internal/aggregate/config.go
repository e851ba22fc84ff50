package aggregate

// ObsConfig describes how one observation is aggregated.
type ObsConfig struct {
	Kind Kind
	Tracking
}

// WindObs is the synthetic vector observation built from windSpeed and windDir.
const WindObs = "wind"

var (
	hilo      = ObsConfig{Kind: KindScalar, Tracking: Tracking{HiLo: true}}
	hiloHist  = ObsConfig{Kind: KindScalar, Tracking: Tracking{HiLo: true, History: true}}
	histOnly  = ObsConfig{Kind: KindScalar, Tracking: Tracking{History: true}}
	sumOnly   = ObsConfig{Kind: KindScalar, Tracking: Tracking{Sum: true}}
	lastOnly  = ObsConfig{Kind: KindScalar}
	vectorAll = ObsConfig{Kind: KindVector, Tracking: Tracking{HiLo: true, History: true, Sum: true}}
)

// Config is the immutable table of tracked observations handed to New.
type Config struct {
	Observations map[string]ObsConfig

	// MaxAge is the history retention in seconds.
	MaxAge int64
}

// DefaultConfig returns the observation table used by the dashboard.
func DefaultConfig() Config {
	return Config{
		Observations: map[string]ObsConfig{
			"outTemp":     hilo,
			"inTemp":      hilo,
			"dewpoint":    hilo,
			"windchill":   hilo,
			"heatindex":   hilo,
			"appTemp":     hilo,
			"humidex":     hilo,
			"barometer":   hilo,
			"outHumidity": hilo,
			"UV":          hilo,
			"radiation":   hilo,
			"windGust":    hilo,
			"windGustDir": hilo,
			"windSpeed":   hiloHist,
			"windDir":     histOnly,
			"rain":        sumOnly,
			"rainRate":    lastOnly,
			WindObs:       vectorAll,
		},
		MaxAge: DefaultMaxAge,
	}
}

func (c Config) clone() Config {
	out := Config{Observations: make(map[string]ObsConfig, len(c.Observations)), MaxAge: c.MaxAge}
	for k, v := range c.Observations {
		out.Observations[k] = v
	}
	if out.MaxAge <= 0 {
		out.MaxAge = DefaultMaxAge
	}
	return out
}
