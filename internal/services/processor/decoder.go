package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/LeonardoBeccarini/soil_processor/internal/model/messages"
)

// ErrMalformedReading is returned for payloads that cannot become a RawReading.
var ErrMalformedReading = errors.New("malformed reading")

// wireReading uses pointers so missing fields can be told apart from zeros.
type wireReading struct {
	SensorID    string   `json:"sensor_id"`
	Timestamp   *float64 `json:"ts"`
	MoistureRaw *float64 `json:"moisture_raw"`
	BatteryV    *float64 `json:"battery_v"`
	TempC       *float64 `json:"temp_c"`
}

// DecodeRawReading parses one raw payload. prefix is the topic prefix before
// the sensor id, used when the payload carries no sensor_id.
func DecodeRawReading(topic, prefix string, payload []byte) (messages.RawReading, error) {
	var w wireReading
	if err := json.Unmarshal(payload, &w); err != nil {
		return messages.RawReading{}, fmt.Errorf("%w: %v", ErrMalformedReading, err)
	}
	if w.Timestamp == nil {
		return messages.RawReading{}, fmt.Errorf("%w: missing ts", ErrMalformedReading)
	}
	if w.MoistureRaw == nil {
		return messages.RawReading{}, fmt.Errorf("%w: missing moisture_raw", ErrMalformedReading)
	}
	if !finite(*w.Timestamp) || !finite(*w.MoistureRaw) {
		return messages.RawReading{}, fmt.Errorf("%w: non-finite value", ErrMalformedReading)
	}
	id := pickSensorID(topic, prefix, w.SensorID)
	if id == "" {
		return messages.RawReading{}, fmt.Errorf("%w: missing sensor_id", ErrMalformedReading)
	}
	return messages.RawReading{
		SensorID:    id,
		Timestamp:   *w.Timestamp,
		MoistureRaw: *w.MoistureRaw,
		BatteryV:    w.BatteryV,
		TempC:       w.TempC,
	}, nil
}

// pickSensorID prefers the payload, then the first topic level after prefix.
func pickSensorID(topic, prefix, sensorID string) string {
	if s := strings.TrimSpace(sensorID); s != "" {
		return s
	}
	if prefix == "" || !strings.HasPrefix(topic, prefix) {
		return ""
	}
	suffix := strings.Trim(strings.TrimPrefix(topic, prefix), "/")
	if suffix == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(suffix, "/")[0])
}

// topicPrefix turns a subscription filter such as irrigation/raw/# into
// the literal prefix irrigation/raw/.
func topicPrefix(filter string) string {
	f := strings.TrimSuffix(strings.TrimSuffix(filter, "#"), "+")
	if f != "" && !strings.HasSuffix(f, "/") {
		f += "/"
	}
	return f
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
