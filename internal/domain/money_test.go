package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFitsScale(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1", true},
		{"0.0001", true},
		{"12.3400", true},
		{"1.500000", true},
		{"0.00001", false},
		{"1.00005", false},
		{"-0.12345", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FitsScale(decimal.RequireFromString(tt.in)), tt.in)
	}
}
