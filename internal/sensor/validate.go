package sensor

import "github.com/lox/stationcast/internal/models"

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagLightNegative      = "light_negative"
	FlagSensorDisagreement = "sensor_disagreement"
	FlagMissingTimestamp   = "missing_timestamp"
	FlagUnparsedField      = "unparsed_field"
)

// MaxTemperatureSpread is the largest BME280/DHT22 difference, in °C, that
// is treated as agreement.
const MaxTemperatureSpread = 0.5

func ValidateReading(r models.Reading) []string {
	var flags []string

	for _, t := range []float64{r.BME280Temperature, r.DHT22Temperature} {
		if t < -50 || t > 60 {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	for _, h := range []float64{r.BME280Humidity, r.DHT22Humidity} {
		if h < 0 || h > 100 {
			flags = append(flags, FlagHumidityInvalid)
			break
		}
	}

	if r.BME280Pressure < 800 || r.BME280Pressure > 1100 {
		flags = append(flags, FlagPressureOutOfRange)
	}

	if r.BH1750Illuminance < 0 {
		flags = append(flags, FlagLightNegative)
	}

	if r.TemperatureSpread() > MaxTemperatureSpread {
		flags = append(flags, FlagSensorDisagreement)
	}

	if r.Timestamp == "" {
		flags = append(flags, FlagMissingTimestamp)
	}

	if len(r.Unparsed) > 0 {
		flags = append(flags, FlagUnparsedField)
	}

	return flags
}
