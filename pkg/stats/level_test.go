package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "p50", want: 0.5},
		{in: "P95", want: 0.95},
		{in: " p100 ", want: 1},
		{in: "0.9", want: 0.9},
		{in: "1", want: 1},
		{in: "", wantErr: true},
		{in: "p0", wantErr: true},
		{in: "p101", wantErr: true},
		{in: "0", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "px", wantErr: true},
		{in: "high", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "pNaN", wantErr: true},
		{in: "Inf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestFormatLevel(t *testing.T) {
	assert.Equal(t, "p50", FormatLevel(0.5))
	assert.Equal(t, "p100", FormatLevel(1))
	assert.Equal(t, "p99.5", FormatLevel(0.995))
	assert.Equal(t, "p99.9", FormatLevel(0.999))
	assert.Equal(t, "p7", FormatLevel(0.07))
	assert.Equal(t, "p95", FormatLevel(0.95))

	q, err := ParseLevel("p7")
	require.NoError(t, err)
	assert.Equal(t, "p7", FormatLevel(q))
}
