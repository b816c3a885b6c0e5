package integration

import (
	"testing"

	"github.com/srg/brushlink/internal/sonicare"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSensors(t *testing.T) {
	st := sonicare.NewState()
	battery := 12
	st.Battery = &battery
	st.BrushingState = sonicare.BrushingSessionComplete

	sensors := buildSensors("Kids", &st, false)
	require.Len(t, sensors, len(sensorDescriptions))

	byKey := map[string]Sensor{}
	for _, s := range sensors {
		byKey[s.Key] = s
		assert.False(t, s.Available)
	}
	assert.Equal(t, 12, byKey["battery"].Value)
	assert.Equal(t, "%", byKey["battery"].Unit)
	assert.Equal(t, "session_complete", byKey["brushing_state"].Value)
	assert.Nil(t, byKey["handle_state"].Value, "unread enums have no value")
	assert.Nil(t, byKey["brushing_time"].Value)
	assert.Equal(t, "Kids Intensity", byKey["intensity"].Name)
}

func TestEntry(t *testing.T) {
	assert.Equal(t, "Bathroom", Entry{Title: "Bathroom", Address: "A"}.DisplayName())
	assert.Equal(t, "A", Entry{Address: "A"}.DisplayName())
	assert.NoError(t, Entry{ID: "x", Address: "A"}.Validate())
	assert.Error(t, Entry{ID: " ", Address: "A"}.Validate())
}
