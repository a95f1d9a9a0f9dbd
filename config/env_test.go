package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sage-x-project/sage-rtc/config"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("SAGE_RTC_TEST_VAR", "hello")

	assert.Equal(t, "hello", config.SubstituteEnvVars("${SAGE_RTC_TEST_VAR}"))
	assert.Equal(t, "fallback", config.SubstituteEnvVars("${SAGE_RTC_TEST_UNSET:fallback}"))
	assert.Equal(t, "", config.SubstituteEnvVars("${SAGE_RTC_TEST_UNSET}"))
	assert.Equal(t, "plain", config.SubstituteEnvVars("plain"))
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	t.Setenv("SAGE_RTC_SIGNALING_HOST", "relay.example.com")

	cfg := &config.Config{
		Signaling: config.SignalingConfig{URL: "wss://${SAGE_RTC_SIGNALING_HOST}/ws"},
		Saga:      config.SagaConfig{ICEServers: []string{"stun:${SAGE_RTC_SIGNALING_HOST}"}},
	}
	config.SubstituteEnvVarsInConfig(cfg)

	assert.Equal(t, "wss://relay.example.com/ws", cfg.Signaling.URL)
	assert.Equal(t, []string{"stun:relay.example.com"}, cfg.Saga.ICEServers)
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("SAGERTC_ENV", "Production")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "production", config.GetEnvironment())
	assert.True(t, config.IsProduction())
	assert.False(t, config.IsDevelopment())
}

func TestGetEnvironmentDefault(t *testing.T) {
	t.Setenv("SAGERTC_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "development", config.GetEnvironment())
	assert.True(t, config.IsDevelopment())
}
