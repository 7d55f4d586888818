package messages

// RawReading is one moisture sample as published by a field sensor.
// Battery and temperature are carried through untouched.
type RawReading struct {
	SensorID    string   `json:"sensor_id"`
	Timestamp   float64  `json:"ts"` // seconds, sensor clock
	MoistureRaw float64  `json:"moisture_raw"`
	BatteryV    *float64 `json:"battery_v,omitempty"`
	TempC       *float64 `json:"temp_c,omitempty"`
}
