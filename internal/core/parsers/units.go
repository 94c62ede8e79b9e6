package parsers

import (
	"strings"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
)

// conversion maps a source unit onto the canonical unit of a kind
type conversion func(float64) float64

func scale(factor float64) conversion {
	return func(v float64) float64 { return v * factor }
}

func identity(v float64) float64 { return v }

// unitTables lists the units each unit-bearing kind accepts
var unitTables = map[types.SensorKind]map[string]conversion{
	types.SensorTemperature: {
		"°C": identity,
		"C":  identity,
		"°F": func(v float64) float64 { return (v - 32) * 5 / 9 },
		"F":  func(v float64) float64 { return (v - 32) * 5 / 9 },
		"K":  func(v float64) float64 { return v - 273.15 },
	},
	types.SensorHumidity: {
		"%":   identity,
		"%RH": identity,
		"%rH": identity,
	},
	types.SensorIlluminance: {
		"lx":  identity,
		"lux": identity,
		"klx": scale(1000),
	},
	types.SensorBlindPosition: {
		"%": identity,
	},
	types.SensorPowerMeter: {
		"kW": identity,
		"W":  scale(0.001),
		"mW": scale(0.000001),
		"MW": scale(1000),
	},
	types.SensorEnergyConsumption: {
		"kWh": identity,
		"Wh":  scale(0.001),
		"MWh": scale(1000),
	},
	types.SensorCurrentMeter: {
		"A":  identity,
		"mA": scale(0.001),
		"kA": scale(1000),
	},
	types.SensorVoltageMeter: {
		"V":  identity,
		"mV": scale(0.001),
		"kV": scale(1000),
	},
	types.SensorAirPressure: {
		"hPa":  identity,
		"mbar": identity,
		"Pa":   scale(0.01),
		"kPa":  scale(10),
		"bar":  scale(1000),
		"inHg": scale(33.8639),
	},
	types.SensorAirQuality: {
		"ppm": identity,
		"ppb": scale(0.001),
	},
	types.SensorWindSpeed: {
		"km/h": identity,
		"kmh":  identity,
		"m/s":  scale(3.6),
		"mph":  scale(1.609344),
		"kn":   scale(1.852),
		"kt":   scale(1.852),
	},
	types.SensorRainfall: {
		"mm":   identity,
		"cm":   scale(10),
		"in":   scale(25.4),
		"mm/h": identity,
	},
}

var knownUnits = func() map[string]bool {
	units := make(map[string]bool)
	for _, table := range unitTables {
		for unit := range table {
			units[unit] = true
		}
	}
	return units
}()

func isKnownUnit(unit string) bool {
	return knownUnits[unit]
}

// normalizeUnit converts value from unit into the canonical unit of kind. The
// boolean is false when the unit is not recognized for that kind.
func normalizeUnit(kind types.SensorKind, value float64, unit string) (float64, bool) {
	table, ok := unitTables[kind]
	if !ok {
		return value, unit == ""
	}
	if unit == "" {
		return value, true
	}
	if conv, ok := table[unit]; ok {
		return conv(value), true
	}
	// Case-insensitive fallback only when it is unambiguous within the kind
	var match conversion
	matches := 0
	for candidate, conv := range table {
		if strings.EqualFold(candidate, unit) {
			match = conv
			matches++
		}
	}
	if matches == 1 {
		return match(value), true
	}
	return value, false
}
