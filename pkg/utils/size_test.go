package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"0", 0},
		{"4096", 4096},
		{"100B", 100},
		{"1KB", 1000},
		{"1.5KB", 1500},
		{"1K", 1024},
		{"1KiB", 1024},
		{"64MiB", 64 * MegaByte},
		{"64m", 64 * MegaByte},
		{"1MB", 1000000},
		{"1.5GiB", 1610612736},
		{"2G", 2 * GigaByte},
		{"1TiB", TeraByte},
		{" 256 MiB ", 256 * MegaByte},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDataSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseDataSizeErrors(t *testing.T) {
	for _, input := range []string{"", "  ", "-1", "MB", "1.2.3MB", "10XB", "1e3", "99999999999TiB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseDataSize(input)
			assert.Error(t, err)
		})
	}
}

func TestParseDataSizeWithDefault(t *testing.T) {
	assert.Equal(t, int64(7), ParseDataSizeWithDefault("", 7))
	assert.Equal(t, int64(7), ParseDataSizeWithDefault("lots", 7))
	assert.Equal(t, 128*MegaByte, ParseDataSizeWithDefault("128MiB", 7))
}

func TestFormatDataSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{-1, "invalid"},
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1 KiB"},
		{1536, "1.5 KiB"},
		{64 * MegaByte, "64 MiB"},
		{GigaByte + GigaByte/4, "1.25 GiB"},
		{3 * TeraByte, "3 TiB"},
		{2048 * TeraByte, "2048 TiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatDataSize(tt.bytes))
	}
}
