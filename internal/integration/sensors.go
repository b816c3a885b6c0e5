package integration

import "github.com/srg/brushlink/internal/sonicare"

// Sensor is one value exposed to the host.
type Sensor struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Value     any    `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Available bool   `json:"available"`
}

type sensorDescription struct {
	key   string
	name  string
	unit  string
	value func(st sonicare.State) any
}

var sensorDescriptions = []sensorDescription{
	{key: "battery", name: "Battery", unit: "%", value: func(st sonicare.State) any { return intValue(st.Battery) }},
	{key: "handle_state", name: "Handle state", value: func(st sonicare.State) any { return enumValue(st.HandleState) }},
	{key: "brushing_mode", name: "Brushing mode", value: func(st sonicare.State) any { return enumValue(st.BrushingMode) }},
	{key: "brushing_state", name: "Brushing state", value: func(st sonicare.State) any { return enumValue(st.BrushingState) }},
	{key: "brushing_time", name: "Brushing time", unit: "s", value: func(st sonicare.State) any { return intValue(st.BrushingTime) }},
	{key: "intensity", name: "Intensity", value: func(st sonicare.State) any { return enumValue(st.Intensity) }},
}

// buildSensors renders the sensor set for an entry. Values are nil until the
// first state arrives; availability follows the connection.
func buildSensors(title string, st *sonicare.State, connected bool) []Sensor {
	out := make([]Sensor, 0, len(sensorDescriptions))
	for _, d := range sensorDescriptions {
		s := Sensor{
			Key:       d.key,
			Name:      title + " " + d.name,
			Unit:      d.unit,
			Available: connected,
		}
		if st != nil {
			s.Value = d.value(*st)
		}
		out = append(out, s)
	}
	return out
}

func intValue(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func enumValue[T interface {
	~uint8
	String() string
}](v T) any {
	if v == 0xff {
		return nil
	}
	return v.String()
}
