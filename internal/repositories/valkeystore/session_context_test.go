package valkeystore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	r := NewSessionContextRepository(nil, "medpassport:", time.Hour)
	assert.Equal(t, "medpassport:session_context:abc", r.key("abc"))
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, int64(3600), NewSessionContextRepository(nil, "p", time.Hour).ttlSeconds())
	assert.Equal(t, int64(1), NewSessionContextRepository(nil, "p", 10*time.Millisecond).ttlSeconds())
}
