package sensors

import "github.com/frostdev-ops/pma-sensor-core/internal/core/types"

// DefaultRules returns the built-in detection rules in registration order.
// Earlier rules win ties.
func DefaultRules() []types.DetectionRule {
	return []types.DetectionRule{
		{
			Name:         "temperature",
			NamePatterns: []string{"temperature", "temp", "temperatur", "°c", "thermometer"},
			TypePatterns: []string{"analog", "infoonlyanalog", "temperature", "roomcontroller", "iroomcontroller"},
			Target:       types.SensorTemperature,
			Confidence:   0.95,
		},
		{
			Name:         "humidity",
			NamePatterns: []string{"humidity", "humid", "feuchte", "luftfeuchtigkeit", "relative humidity"},
			TypePatterns: []string{"analog", "infoonlyanalog", "humidity"},
			Target:       types.SensorHumidity,
			Confidence:   0.9,
		},
		{
			Name:         "illuminance",
			NamePatterns: []string{"illuminance", "brightness", "lux", "light level", "helligkeit"},
			TypePatterns: []string{"analog", "infoonlyanalog", "lightsensor"},
			Target:       types.SensorIlluminance,
			Confidence:   0.9,
		},
		{
			Name:         "motion",
			NamePatterns: []string{"motion", "presence", "bewegung", "pir", "occupancy"},
			TypePatterns: []string{"presencedetector", "motion", "digital", "infoonlydigital"},
			Target:       types.SensorMotionDetector,
			Confidence:   0.9,
		},
		{
			Name:         "door_window",
			NamePatterns: []string{"door", "window", "contact", "fenster", "tür", "gate"},
			TypePatterns: []string{"windowmonitor", "digital", "infoonlydigital", "contact"},
			Target:       types.SensorDoorWindowContact,
			Confidence:   0.9,
		},
		{
			Name:         "smoke",
			NamePatterns: []string{"smoke", "rauch", "fire"},
			TypePatterns: []string{"smokealarm", "alarm", "digital"},
			Target:       types.SensorSmokeDetector,
			Confidence:   0.95,
		},
		{
			Name:         "power",
			NamePatterns: []string{"power", "leistung", "watt", "load"},
			TypePatterns: []string{"meter", "analog", "infoonlyanalog", "energymanager"},
			Target:       types.SensorPowerMeter,
			Confidence:   0.85,
		},
		{
			Name:         "energy",
			NamePatterns: []string{"energy", "consumption", "verbrauch", "kwh", "energie"},
			TypePatterns: []string{"meter", "analog", "infoonlyanalog", "energymanager"},
			Target:       types.SensorEnergyConsumption,
			Confidence:   0.85,
		},
		{
			Name:         "current",
			NamePatterns: []string{"current", "ampere", "strom"},
			TypePatterns: []string{"meter", "analog", "infoonlyanalog"},
			Target:       types.SensorCurrentMeter,
			Confidence:   0.8,
		},
		{
			Name:         "voltage",
			NamePatterns: []string{"voltage", "volt", "spannung"},
			TypePatterns: []string{"meter", "analog", "infoonlyanalog"},
			Target:       types.SensorVoltageMeter,
			Confidence:   0.8,
		},
		{
			Name:         "blind",
			NamePatterns: []string{"blind", "shade", "shutter", "jalousie", "rollo", "awning"},
			TypePatterns: []string{"jalousie", "centraljalousie", "blind", "gate"},
			Target:       types.SensorBlindPosition,
			Confidence:   0.9,
		},
		{
			Name:         "wind",
			NamePatterns: []string{"wind", "windspeed", "gust"},
			TypePatterns: []string{"analog", "infoonlyanalog", "weatherstation"},
			Target:       types.SensorWindSpeed,
			Confidence:   0.85,
		},
		{
			Name:         "rain",
			NamePatterns: []string{"rain", "rainfall", "precipitation", "regen"},
			TypePatterns: []string{"analog", "infoonlyanalog", "weatherstation", "digital"},
			Target:       types.SensorRainfall,
			Confidence:   0.85,
		},
		{
			Name:         "pressure",
			NamePatterns: []string{"pressure", "barometer", "luftdruck", "hpa"},
			TypePatterns: []string{"analog", "infoonlyanalog", "weatherstation"},
			Target:       types.SensorAirPressure,
			Confidence:   0.85,
		},
		{
			Name:         "air_quality",
			NamePatterns: []string{"co2", "air quality", "voc", "luftqualität", "iaq"},
			TypePatterns: []string{"analog", "infoonlyanalog", "airquality"},
			Target:       types.SensorAirQuality,
			Confidence:   0.85,
		},
	}
}
