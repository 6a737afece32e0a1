package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisClient_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"wrong scheme", "http://localhost:6379"},
		{"bad db", "redis://localhost:6379/notanumber"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewRedisClient(tt.url)
			assert.Error(t, err)
			assert.Nil(t, client)
		})
	}
}
