package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// ForecastType selects the provider endpoint and the cache partition for a forecast.
type ForecastType string

const (
	ForecastDaily  ForecastType = "DAILY"
	ForecastHourly ForecastType = "HOURLY"
)

// Valid reports whether t is one of the known forecast types.
func (t ForecastType) Valid() bool {
	return t == ForecastDaily || t == ForecastHourly
}

// CachedLocation is a memoized geoposition lookup. Latitude and longitude together
// form the lookup key; Response is the provider payload stored verbatim.
type CachedLocation struct {
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Response   json.RawMessage `json:"response"`
	CreatedAt  time.Time       `json:"created_at"`
	ModifiedAt time.Time       `json:"modified_at"`
}

// NewCachedLocation stamps both timestamps with the current time.
func NewCachedLocation(lat, lon float64, response json.RawMessage) CachedLocation {
	now := time.Now().UTC()
	return CachedLocation{
		Latitude:   lat,
		Longitude:  lon,
		Response:   response,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// LocationKey extracts response["Key"]. Returns "" when the payload is not an object,
// has no Key, or Key is null/empty. Numeric keys are returned in their JSON text form.
func (l CachedLocation) LocationKey() string {
	if IsEmptyPayload(l.Response) {
		return ""
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(l.Response, &doc); err != nil {
		return ""
	}
	raw, ok := doc["Key"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '{' || raw[0] == '[' || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	return string(raw)
}

// CachedForecast is a memoized forecast for a (location key, type) pair.
type CachedForecast struct {
	LocationKey string          `json:"location_key"`
	Type        ForecastType    `json:"type"`
	Response    json.RawMessage `json:"response"`
	CreatedAt   time.Time       `json:"created_at"`
	ModifiedAt  time.Time       `json:"modified_at"`
}

// NewCachedForecast stamps both timestamps with the current time.
func NewCachedForecast(locationKey string, t ForecastType, response json.RawMessage) CachedForecast {
	now := time.Now().UTC()
	return CachedForecast{
		LocationKey: locationKey,
		Type:        t,
		Response:    response,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
}

// IsEmptyPayload reports whether p carries no usable data: absent, blank, null,
// an empty object, an empty array or an empty string.
func IsEmptyPayload(p json.RawMessage) bool {
	trimmed := bytes.TrimSpace(p)
	if len(trimmed) == 0 {
		return true
	}
	switch string(trimmed) {
	case "null", `""`:
		return true
	}
	switch trimmed[0] {
	case '{':
		var m map[string]json.RawMessage
		return json.Unmarshal(trimmed, &m) == nil && len(m) == 0
	case '[':
		var a []json.RawMessage
		return json.Unmarshal(trimmed, &a) == nil && len(a) == 0
	}
	return false
}

// Coordinate is a latitude/longitude pair, used for request parameters and tracked locations.
type Coordinate struct {
	Latitude  float64 `yaml:"lat" json:"lat" validate:"latitude"`
	Longitude float64 `yaml:"long" json:"long" validate:"longitude"`
}
