package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRecordData(t *testing.T) {
	tests := []struct {
		name     string
		input    map[string]string
		expected string
	}{
		{"empty", map[string]string{}, `{}`},
		{"nil", nil, `{}`},
		{"sorted keys", map[string]string{"b": "2", "a": "1"}, `{"a":"1","b":"2"}`},
		{"no html escaping", map[string]string{"k": "<a&b>"}, `{"k":"<a&b>"}`},
		{"escapes quotes", map[string]string{"k": `say "hi"`}, `{"k":"say \"hi\""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalRecordData(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMarshalRecordData_NFCNormalizes(t *testing.T) {
	// "e" followed by a combining acute accent becomes the precomposed form.
	got, err := MarshalRecordData(map[string]string{"name": "Ame\u0301lie"})
	require.NoError(t, err)
	assert.Equal(t, "{\"name\":\"Am\u00e9lie\"}", got)
}

func TestMarshalRecordData_RejectsCollidingKeys(t *testing.T) {
	_, err := MarshalRecordData(map[string]string{"\u00e9": "1", "e\u0301": "2"})
	assert.Error(t, err)
}

func TestUnmarshalRecordData(t *testing.T) {
	got, err := UnmarshalRecordData("")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{}, got)

	got, err = UnmarshalRecordData(`{"a":"1"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, got)

	_, err = UnmarshalRecordData(`{"a":1}`)
	assert.Error(t, err)
}
