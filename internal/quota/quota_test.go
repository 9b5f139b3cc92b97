package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimit(t *testing.T) {
	assert.Equal(t, int64(1073741824), Limit(0))
	assert.Equal(t, int64(10737418240), Limit(1))
	assert.Equal(t, int64(107374182400), Limit(2))
	// Unknown tier falls back to free
	assert.Equal(t, int64(1073741824), Limit(42))
	assert.Equal(t, int64(1073741824), Limit(-1))
}

func TestCanStore(t *testing.T) {
	tests := []struct {
		name     string
		used     int64
		limit    int64
		incoming int64
		want     bool
	}{
		{"empty tenant small file", 0, Limit(0), 50000, true},
		{"exactly at limit", Limit(0) - 100, Limit(0), 100, true},
		{"one byte over", Limit(0) - 100, Limit(0), 101, false},
		{"near-full free tier rejects 200KB", 1073700000, Limit(0), 200000, false},
		{"near-full free tier accepts 50KB", 1073700000, Limit(0), 50000, true},
		{"negative incoming treated as zero", 100, Limit(0), -5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanStore(tt.used, tt.limit, tt.incoming))
		})
	}
}

func TestRelease(t *testing.T) {
	assert.Equal(t, int64(900), Release(1000, 100))
	assert.Equal(t, int64(0), Release(1000, 1000))
	// Never wraps below zero
	assert.Equal(t, int64(0), Release(100, 1000))
	assert.Equal(t, int64(100), Release(100, -10))
}
