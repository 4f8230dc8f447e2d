package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshalJSON_String(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())
}

func TestDurationUnmarshalJSON_Milliseconds(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`1500`), &d))
	assert.Equal(t, 1500*time.Millisecond, d.Std())
}

func TestDurationUnmarshalJSON_Invalid(t *testing.T) {
	var d Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestDurationMarshalJSON(t *testing.T) {
	data, err := json.Marshal(Duration(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"2m0s"`, string(data))
}

func TestDurationJSON_RoundTrip(t *testing.T) {
	original := Duration(90 * time.Second)
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Duration
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("168h")))
	assert.Equal(t, 168*time.Hour, d.Std())

	assert.Error(t, d.UnmarshalText([]byte("a week")))
}

func TestDurationMarshalText(t *testing.T) {
	text, err := Duration(time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1s", string(text))
}

func TestParseDuration_Forms(t *testing.T) {
	d, err := ParseDuration("30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d.Std())

	d, err = ParseDuration(float64(250))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d.Std())

	d, err = ParseDuration(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d.Std())

	_, err = ParseDuration([]string{"nope"})
	assert.Error(t, err)
}
