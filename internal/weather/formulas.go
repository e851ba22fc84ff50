package weather

import "math"

// DewpointC returns the dew point in degree_C for a temperature in degree_C
// and a relative humidity in percent.
func DewpointC(tempC, rh *float64) *float64 {
	if tempC == nil || rh == nil || *rh <= 0 {
		return nil
	}
	gamma := 17.27*(*tempC)/(237.7+*tempC) + math.Log(*rh/100.0)
	td := 237.7 * gamma / (17.27 - gamma)
	return &td
}

// HumidexC returns the humidex in degree_C. Below the vapour pressure
// threshold the humidex equals the air temperature.
func HumidexC(tempC, rh *float64) *float64 {
	dp := DewpointC(tempC, rh)
	if dp == nil {
		return nil
	}
	e := 6.11 * math.Exp(5417.7530*((1.0/273.16)-(1.0/(*dp+273.15))))
	h := 0.5555 * (e - 10.0)
	if h <= 0 {
		v := *tempC
		return &v
	}
	v := *tempC + h
	return &v
}

// CompassToXY splits a magnitude at a compass bearing into cartesian
// components (x east, y north).
func CompassToXY(magnitude, bearing float64) (x, y float64) {
	rad := (90.0 - bearing) * math.Pi / 180.0
	return magnitude * math.Cos(rad), magnitude * math.Sin(rad)
}

// XYToCompass returns the compass bearing in [0, 360) of a cartesian vector.
func XYToCompass(x, y float64) float64 {
	dir := 90.0 - math.Atan2(y, x)*180.0/math.Pi
	for dir < 0 {
		dir += 360.0
	}
	for dir >= 360.0 {
		dir -= 360.0
	}
	return dir
}
