package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperation(t *testing.T) {
	for _, op := range Operations() {
		parsed, err := ParseOperation(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, parsed)
	}

	op, err := ParseOperation("WRITE")
	require.NoError(t, err)
	assert.Equal(t, OperationWrite, op)

	_, err = ParseOperation("stage")
	assert.Error(t, err)
}

func TestParseRetentionAndLatency(t *testing.T) {
	rp, err := ParseRetentionPolicy("custodial")
	require.NoError(t, err)
	assert.Equal(t, RetentionCustodial, rp)

	rp, err = ParseRetentionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RetentionUnspecified, rp)

	_, err = ParseRetentionPolicy("forever")
	assert.Error(t, err)

	al, err := ParseAccessLatency("NEARLINE")
	require.NoError(t, err)
	assert.Equal(t, LatencyNearline, al)
	assert.Equal(t, "NEARLINE", al.String())

	_, err = ParseAccessLatency("soon")
	assert.Error(t, err)
}

func TestParsePnfsID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    PnfsID
		wantErr bool
	}{
		{"chimera", "0000a1b2c3d4e5f60718293a4b5c6d7e8f90", "0000A1B2C3D4E5F60718293A4B5C6D7E8F90", false},
		{"legacy", "000100000000000000001060", "000100000000000000001060", false},
		{"too short", "0001", "", true},
		{"not hex", "0000A1B2C3D4E5F60718293A4B5C6D7E8F9Z", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParsePnfsID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}
