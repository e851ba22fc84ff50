package dashboard

// Snapshot is the dashboard document published after each generation.
// Every number is already converted to display units and rounded; nil
// marshals as null.
type Snapshot struct {
	DateTime    DateTime `json:"dateTime"`
	OutTemp     OutTemp  `json:"outTemp"`
	OutHumidity Trended  `json:"outHumidity"`
	UV          MaxObs   `json:"UV"`
	Radiation   MaxObs   `json:"radiation"`
	Barometer   Trended  `json:"barometer"`
	Windchill   MinObs   `json:"windchill"`
	Heatindex   MaxObs   `json:"heatindex"`
	Dewpoint    Trended  `json:"dewpoint"`
	AppTemp     Extremes `json:"appTemp"`
	Humidex     Now      `json:"humidex"`
	Wind        Wind     `json:"wind"`
	Rain        Rain     `json:"rain"`
}

type DateTime struct {
	Now int64 `json:"now"`
}

type Now struct {
	Now *float64 `json:"now"`
}

// Today holds the day extremes and the times they were reached.
type Today struct {
	Min  *float64 `json:"min"`
	MinT *int64   `json:"min_t"`
	Max  *float64 `json:"max"`
	MaxT *int64   `json:"max_t"`
}

type TodayMin struct {
	Min  *float64 `json:"min"`
	MinT *int64   `json:"min_t"`
}

type TodayMax struct {
	Max  *float64 `json:"max"`
	MaxT *int64   `json:"max_t"`
}

type OutTemp struct {
	Now      *float64 `json:"now"`
	Trend    *float64 `json:"trend"`
	Trend24h *float64 `json:"24h_trend"`
	Today    Today    `json:"today"`
}

type Trended struct {
	Now   *float64 `json:"now"`
	Trend *float64 `json:"trend"`
	Today Today    `json:"today"`
}

type Extremes struct {
	Now   *float64 `json:"now"`
	Today Today    `json:"today"`
}

type MaxObs struct {
	Now   *float64 `json:"now"`
	Today TodayMax `json:"today"`
}

type MinObs struct {
	Now   *float64 `json:"now"`
	Today TodayMin `json:"today"`
}

type Avg struct {
	Avg *float64 `json:"avg"`
}

type AvgObs struct {
	Now   *float64 `json:"now"`
	Today Avg      `json:"today"`
}

type GustToday struct {
	Max    *float64 `json:"max"`
	MaxDir *float64 `json:"max_dir"`
	MaxT   *int64   `json:"max_t"`
}

type Gust struct {
	Now   *float64  `json:"now"`
	Today GustToday `json:"today"`
}

type Windrun struct {
	Today *float64 `json:"today"`
}

type Wind struct {
	WindSpeed AvgObs  `json:"windSpeed"`
	WindDir   AvgObs  `json:"windDir"`
	WindGust  Gust    `json:"windGust"`
	Windrun   Windrun `json:"windrun"`
}

type Rain struct {
	Today    *float64 `json:"today"`
	NineAM   *float64 `json:"9am"`
	RainRate *float64 `json:"rainRate"`
}
