package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPage(t *testing.T) {
	tests := []struct {
		name               string
		page, pageSize     int
		wantOffset, wantLimit int
	}{
		{"first page", 0, 10, 0, 10},
		{"defaults", -3, 0, 0, DefaultPageSize},
		{"capped size", 2, 500, 2 * MaxPageSize, MaxPageSize},
		{"overflowing page", 922337203685477580, 20, math.MaxInt / 20 * 20, 20},
		{"max int page", math.MaxInt, 1, math.MaxInt, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, limit := Page(tt.page, tt.pageSize)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantLimit, limit)
			assert.GreaterOrEqual(t, offset, 0)
		})
	}
}
