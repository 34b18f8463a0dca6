package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHours(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{raw: "0", want: 0},
		{raw: "1.5", want: 1.5},
		{raw: "10000", want: 10000},
		{raw: "10000.01", wantErr: true},
		{raw: "-1", wantErr: true},
		{raw: "NaN", wantErr: true},
		{raw: "two", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseHours(tt.raw, 10000)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
