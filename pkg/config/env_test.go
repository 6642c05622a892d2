package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("ARBGRAPH_TEST_STR", "nats://broker:4222")
	assert.Equal(t, "nats://broker:4222", GetEnv("ARBGRAPH_TEST_STR", "x"))
	assert.Equal(t, "fallback", GetEnv("ARBGRAPH_TEST_MISSING", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("ARBGRAPH_TEST_INT", "42")
	t.Setenv("ARBGRAPH_TEST_BAD_INT", "forty-two")
	assert.Equal(t, 42, GetEnvInt("ARBGRAPH_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("ARBGRAPH_TEST_BAD_INT", 1))
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("ARBGRAPH_TEST_FLOAT", "0.25")
	assert.Equal(t, 0.25, GetEnvFloat("ARBGRAPH_TEST_FLOAT", 0.1))
	assert.Equal(t, 0.1, GetEnvFloat("ARBGRAPH_TEST_MISSING", 0.1))
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{
		"true": true,
		"1":    true,
		"yes":  true,
		"ON":   true,
		"no":   false,
		"off":  false,
		"0":    false,
	}
	for raw, want := range cases {
		t.Setenv("ARBGRAPH_TEST_BOOL", raw)
		assert.Equal(t, want, GetEnvBool("ARBGRAPH_TEST_BOOL", !want), "value %q", raw)
	}

	t.Setenv("ARBGRAPH_TEST_BOOL", "maybe")
	assert.True(t, GetEnvBool("ARBGRAPH_TEST_BOOL", true))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("ARBGRAPH_TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, GetEnvDuration("ARBGRAPH_TEST_DUR", time.Second))

	t.Setenv("ARBGRAPH_TEST_DUR", "soon")
	assert.Equal(t, time.Second, GetEnvDuration("ARBGRAPH_TEST_DUR", time.Second))
}
