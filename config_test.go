package vnc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"VNC_PORT", "VNC_PASSWORD", "VNC_DESKTOP_NAME", "VNC_WIDTH", "VNC_HEIGHT",
		"VNC_INITIAL_QUALITY", "VNC_INITIAL_COMPRESSION",
		"VNC_ACCEPT_RATE_PER_SECOND", "VNC_ACCEPT_BURST",
	} {
		os.Unsetenv(key)
	}

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultDesktopName, cfg.DesktopName)
	require.Equal(t, DefaultInitialQuality, cfg.InitialQuality)
	require.Equal(t, DefaultInitialCompression, cfg.InitialCompression)
	require.Empty(t, cfg.Password)
}

func TestLoadConfigEnvOverridesDefaults(t *testing.T) {
	t.Setenv("VNC_PORT", "5901")
	t.Setenv("VNC_PASSWORD", "secret")
	t.Setenv("VNC_DESKTOP_NAME", "override desktop")
	t.Setenv("VNC_INITIAL_QUALITY", "9")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 5901, cfg.Port)
	require.Equal(t, "secret", cfg.Password)
	require.Equal(t, "override desktop", cfg.DesktopName)
	require.Equal(t, 9, cfg.InitialQuality)
}

func TestValidateRejectsOutOfRangeFields(t *testing.T) {
	cfg := defaultConfig()
	cfg.Port = 70000
	cfg.InitialQuality = 99

	errs := cfg.Validate()
	require.Len(t, errs, 2)
	require.Contains(t, errs.Error(), "Port")
	require.Contains(t, errs.Error(), "InitialQuality")
}

func TestValidationErrorsErrorFormat(t *testing.T) {
	errs := ValidationErrors{
		{Field: "Port", Message: "must be between 1 and 65535"},
	}
	require.Equal(t, "configuration errors:\n  - Port: must be between 1 and 65535", errs.Error())
}

func TestValidationErrorsEmptyIsEmptyString(t *testing.T) {
	var errs ValidationErrors
	require.Empty(t, errs.Error())
}

func TestLoadConfigInvalidEnvIntReturnsValidationErrors(t *testing.T) {
	t.Setenv("VNC_PORT", "not-a-number")
	_, err := LoadConfig("")
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
}
