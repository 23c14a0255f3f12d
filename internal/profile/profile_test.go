package profile

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func clearDialogueEnvVars() {
	vars := []string{
		"DIALOGUED_NLU_PROVIDER",
		"DIALOGUED_NLU_BASE_URL",
		"DIALOGUED_NLU_API_KEY",
		"DIALOGUED_CONFIDENCE_HIGH",
		"DIALOGUED_CONFIDENCE_MEDIUM",
		"DIALOGUED_CONFIDENCE_LOW",
		"DIALOGUED_AMBIGUITY_GAP_THRESHOLD",
		"DIALOGUED_SESSION_TTL_HOURS",
		"DIALOGUED_METRICS_ENABLED",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestProfileDefaults(t *testing.T) {
	clearDialogueEnvVars()

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "mock", p.NLUProvider)
	assert.Equal(t, 0.85, p.ConfidenceHigh)
	assert.Equal(t, 0.70, p.ConfidenceMedium)
	assert.Equal(t, 0.55, p.ConfidenceLow)
	assert.Equal(t, 0.15, p.AmbiguityGapThreshold)
	assert.Equal(t, 24, p.SessionTTLHours)
	assert.True(t, p.MetricsOn)
}

func TestProfileFromEnv(t *testing.T) {
	clearDialogueEnvVars()
	os.Setenv("DIALOGUED_NLU_PROVIDER", "http")
	os.Setenv("DIALOGUED_CONFIDENCE_HIGH", "0.9")
	os.Setenv("DIALOGUED_SESSION_TTL_HOURS", "48")
	defer clearDialogueEnvVars()

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "http", p.NLUProvider)
	assert.Equal(t, 0.9, p.ConfidenceHigh)
	assert.Equal(t, 48, p.SessionTTLHours)
}

func TestProfileIsDev(t *testing.T) {
	p := &Profile{Mode: "prod"}
	assert.False(t, p.IsDev())

	p.Mode = "dev"
	assert.True(t, p.IsDev())
}

func TestProfileValidateDefaultsMode(t *testing.T) {
	p := &Profile{Mode: "bogus", Driver: "postgres"}
	require := assert.New(t)
	err := p.Validate()
	require.NoError(err)
	require.Equal("demo", p.Mode)
}
