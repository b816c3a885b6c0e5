package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit UUID", input: "2A19", expected: "2a19"},
		{name: "16-bit UUID with 0x prefix", input: "0x180F", expected: "180f"},
		{name: "16-bit UUID with 0X prefix", input: "0X180F", expected: "180f"},
		{name: "SIG base UUID with dashes", input: "00002a19-0000-1000-8000-00805f9b34fb", expected: "2a19"},
		{name: "SIG base UUID uppercase", input: "0000180F-0000-1000-8000-00805F9B34FB", expected: "180f"},
		{name: "SIG base UUID without dashes", input: "00002a1900001000800000805f9b34fb", expected: "2a19"},
		{name: "vendor UUID keeps full form", input: "477EA600-A260-11E4-AE37-0002A5D54010", expected: "477ea600a26011e4ae370002a5d54010"},
		{name: "wrong SIG prefix is not shortened", input: "AA002902-0000-1000-8000-00805f9b34fb", expected: "aa00290200001000800000805f9b34fb"},
		{name: "surrounding whitespace", input: "  2a19 ", expected: "2a19"},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	got := NormalizeUUIDs([]string{"180F", "0x2A19"})
	assert.Equal(t, []string{"180f", "2a19"}, got)
}

func TestValidateUUID(t *testing.T) {
	t.Run("accepts short and long forms", func(t *testing.T) {
		got, err := ValidateUUID("180F", "477ea600-a260-11e4-ae37-0002a5d50001")
		require.NoError(t, err)
		assert.Equal(t, []string{"180f", "477ea600a26011e4ae370002a5d50001"}, got)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.Error(t, err)

		_, err = ValidateUUID("180f", "")
		assert.ErrorContains(t, err, "index 1")
	})

	t.Run("rejects non-hex characters", func(t *testing.T) {
		_, err := ValidateUUID("zz19")
		assert.ErrorContains(t, err, "invalid UUID format")
	})

	t.Run("rejects odd lengths", func(t *testing.T) {
		_, err := ValidateUUID("2a1")
		assert.ErrorContains(t, err, "invalid UUID format")
	})
}
