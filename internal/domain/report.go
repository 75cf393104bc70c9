package domain

import "time"

// Conditions is the coarse sky-condition bucket attached to a reading.
type Conditions string

const (
	ConditionsClear   Conditions = "clear"
	ConditionsCloudy  Conditions = "cloudy"
	ConditionsRain    Conditions = "rain"
	ConditionsSnow    Conditions = "snow"
	ConditionsStorm   Conditions = "storm"
	ConditionsFog     Conditions = "fog"
	ConditionsUnknown Conditions = "unknown"
)

// ReportKey is the natural key of a weather report: one observation slot per
// location per day. DateKey uses the YYYY-MM-DD form.
type ReportKey struct {
	LocationID string
	DateKey    string
}

func (k ReportKey) String() string {
	return k.LocationID + "/" + k.DateKey
}

// Reading is a single reporter's submitted observation. Scalar weather fields
// are fixed-point tenths (25.2°C = 252); pressure is tenths of hPa, humidity
// tenths of a percent, wind tenths of a unit, precipitation tenths of a mm.
type Reading struct {
	Temperature    int64
	TemperatureMax int64
	TemperatureMin int64
	Precipitation  int64
	Visibility     int64
	WindSpeed      int64
	WindGust       int64
	Pressure       int64
	Humidity       int64
	Conditions     Conditions
	SourceHash     string
	SubmittedAt    time.Time
}

// WeatherReport aggregates per-reporter readings for one ReportKey. Once
// Finalized is true the aggregate Value is immutable except through an upheld
// dispute resolution.
type WeatherReport struct {
	Key         ReportKey
	Readings    map[string]Reading // keyed by reporter address
	Finalized   bool
	Value       int64 // aggregate temperature, tenths
	Outcome     bool  // threshold outcome recorded with the aggregate
	FinalizedAt *time.Time
	UpdatedAt   time.Time
}

// Reporter is a registered weather data source. Only active reporters may
// submit readings.
type Reporter struct {
	Address string
	Name    string
	Active  bool
	AddedAt time.Time
}
