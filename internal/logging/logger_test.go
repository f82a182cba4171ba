package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeKVs(t *testing.T) {
	out := sanitizeKVs([]interface{}{"player", "Kari", "database_dsn", "postgres://u:p@h/db", "writes", 3, "dangling"})
	assert.Len(t, out, 7)
	assert.Equal(t, "player", out[0])
	assert.NotEqual(t, "Kari", out[1])
	assert.Contains(t, out[1], "hash:")
	assert.Equal(t, "[REDACTED]", out[3])
	assert.Equal(t, 3, out[5])
	assert.Equal(t, "dangling", out[6])
}

func TestHashIsStable(t *testing.T) {
	assert.Equal(t, hashValue("Kari"), hashValue("Kari"))
	assert.NotEqual(t, hashValue("Kari"), hashValue("Ola"))
	assert.Empty(t, hashValue(""))
}

func TestNopLogger(t *testing.T) {
	l := Nop().With("scenario_id", "sc-1")
	l.Info("ignored", "player", "Kari")
	l.Sync()
}
