package processor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRawReading(t *testing.T) {
	const prefix = "irrigation/raw/"
	testCases := []struct {
		name    string
		topic   string
		payload string
		wantID  string
		wantErr bool
	}{
		{
			name:    "full payload",
			topic:   "irrigation/raw/s1",
			payload: `{"sensor_id":"s1","ts":1714567890.5,"moisture_raw":512.3,"battery_v":3.7,"temp_c":21.5}`,
			wantID:  "s1",
		},
		{
			name:    "payload id wins over topic",
			topic:   "irrigation/raw/other",
			payload: `{"sensor_id":"s2","ts":1,"moisture_raw":500}`,
			wantID:  "s2",
		},
		{
			name:    "id from topic",
			topic:   "irrigation/raw/s3",
			payload: `{"ts":1,"moisture_raw":500}`,
			wantID:  "s3",
		},
		{
			name:    "zero moisture is valid",
			topic:   "irrigation/raw/s4",
			payload: `{"ts":0,"moisture_raw":0}`,
			wantID:  "s4",
		},
		{name: "not json", topic: "irrigation/raw/s1", payload: `moisture=500`, wantErr: true},
		{name: "missing ts", topic: "irrigation/raw/s1", payload: `{"moisture_raw":500}`, wantErr: true},
		{name: "missing moisture", topic: "irrigation/raw/s1", payload: `{"ts":1}`, wantErr: true},
		{name: "null moisture", topic: "irrigation/raw/s1", payload: `{"ts":1,"moisture_raw":null}`, wantErr: true},
		{name: "string moisture", topic: "irrigation/raw/s1", payload: `{"ts":1,"moisture_raw":"500"}`, wantErr: true},
		{name: "no id anywhere", topic: "irrigation/raw/", payload: `{"ts":1,"moisture_raw":500}`, wantErr: true},
		{name: "foreign topic without id", topic: "other/s1", payload: `{"ts":1,"moisture_raw":500}`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := DecodeRawReading(tc.topic, prefix, []byte(tc.payload))
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedReading)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, r.SensorID)
		})
	}
}

func TestDecodeRawReading_KeepsOptionalFields(t *testing.T) {
	r, err := DecodeRawReading("irrigation/raw/s1", "irrigation/raw/",
		[]byte(`{"sensor_id":"s1","ts":10.25,"moisture_raw":480,"battery_v":3.61}`))
	require.NoError(t, err)
	assert.Equal(t, 10.25, r.Timestamp)
	assert.Equal(t, 480.0, r.MoistureRaw)
	require.NotNil(t, r.BatteryV)
	assert.Equal(t, 3.61, *r.BatteryV)
	assert.Nil(t, r.TempC)
}

func TestTopicPrefix(t *testing.T) {
	assert.Equal(t, "irrigation/raw/", topicPrefix("irrigation/raw/#"))
	assert.Equal(t, "irrigation/raw/", topicPrefix("irrigation/raw/+"))
	assert.Equal(t, "irrigation/raw/", topicPrefix("irrigation/raw"))
	assert.Equal(t, "", topicPrefix("#"))
}

func TestFinite(t *testing.T) {
	assert.True(t, finite(1))
	assert.False(t, finite(math.NaN()))
	assert.False(t, finite(math.Inf(1)))
}
