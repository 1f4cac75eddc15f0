package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV", "dev")
	t.Setenv("EMS_BASE_URL", "https://assets.example.com:8280")
	t.Setenv("EMS_LOGIN_URL", "https://assets.example.com/api/token/login")
	t.Setenv("EMS_USERNAME", "support@acme")
	t.Setenv("EMS_PASSWORD", "secret")
	t.Setenv("REPORT_DOMAIN", "acme")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", "test.db")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", c.Env)
	assert.Equal(t, "sqlite", c.DB.Driver)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, "DAILY", c.Report.Period)
	assert.Equal(t, "meter", c.Report.GroupBy)
	assert.Equal(t, "LVPMeter", c.Report.Type)
	assert.Equal(t, "info", c.Log.ConsoleLevel)
	assert.Equal(t, "debug", c.Log.FileLevel)
	assert.Equal(t, 5.0, c.EMS.RatePerSec)
}

func TestLoadInvalidEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "staging")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadMissingEMSCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EMS_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadInvalidDriver(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_DRIVER", "oracle")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadPostgresNeedsTarget(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("DB_NAME", "emsreport")
	c, err := Load()
	require.NoError(t, err)
	assert.Contains(t, c.PostgresDSN(), "postgres://")
	assert.Contains(t, c.PostgresDSN(), "/emsreport")
}

func TestPostgresDSNExplicitWins(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://u:p@db:5432/jobs?sslmode=require")
	t.Setenv("DB_NAME", "ignored")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/jobs?sslmode=require", c.PostgresDSN())
}

func TestLoadLevelsNormalized(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_CONSOLE_LEVEL", "WARN")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", c.Log.ConsoleLevel)
}
