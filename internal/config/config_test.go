package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Reads YAML and keeps defaults", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "data", "auth.db")
		path := writeConfig(t, `
server:
  port: 9090
database:
  type: sqlite
  sqlite:
    path: `+dbPath+`
jwt:
  secret: from-file
  access_ttl: 30m
  role_access_ttl:
    student: 24h
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "from-file", cfg.JWT.Secret)
		assert.Equal(t, 30*time.Minute, cfg.JWT.AccessTTL.Std())
		assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL.Std())
		assert.Equal(t, time.Hour, cfg.Security.ResetTokenTTL.Std())
		assert.Equal(t, 24*time.Hour, cfg.AccessTTLFor("student"))
		assert.DirExists(t, filepath.Dir(dbPath))
	})

	t.Run("Environment overrides file", func(t *testing.T) {
		t.Setenv("SCHOOLAUTH_JWT_SECRET", "from-env")
		t.Setenv("SCHOOLAUTH_ACCESS_TTL", "5m")
		t.Setenv("SCHOOLAUTH_ALLOWED_ORIGINS", "https://a.test,https://b.test")
		t.Setenv("SCHOOLAUTH_DB_PATH", filepath.Join(t.TempDir(), "env.db"))

		path := writeConfig(t, "jwt:\n  secret: from-file\n")
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.JWT.Secret)
		assert.Equal(t, 5*time.Minute, cfg.JWT.AccessTTL.Std())
		assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("Invalid duration in env", func(t *testing.T) {
		t.Setenv("SCHOOLAUTH_REFRESH_TTL", "soon")
		path := writeConfig(t, "jwt:\n  secret: x\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.JWT.Secret = "secret"
		return cfg
	}

	t.Run("Defaults with secret are valid", func(t *testing.T) {
		cfg := valid()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Empty secret", func(t *testing.T) {
		cfg := Default()
		assert.ErrorContains(t, cfg.Validate(), "secret")
	})

	t.Run("Unknown role override", func(t *testing.T) {
		cfg := valid()
		cfg.JWT.RoleAccessTTL = map[string]Duration{"janitor": Duration(time.Hour)}
		assert.ErrorContains(t, cfg.Validate(), "janitor")
	})

	t.Run("Bad role override duration", func(t *testing.T) {
		cfg := valid()
		cfg.JWT.RoleAccessTTL = map[string]Duration{"teacher": Duration(-time.Hour)}
		assert.Error(t, cfg.Validate())
	})

	t.Run("Unsupported database", func(t *testing.T) {
		cfg := valid()
		cfg.Database.Type = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("MySQL needs credentials", func(t *testing.T) {
		cfg := valid()
		cfg.Database.Type = "mysql"
		assert.Error(t, cfg.Validate())
	})
}

func TestAccessTTLFor(t *testing.T) {
	cfg := Default()
	cfg.JWT.AccessTTL = Duration(15 * time.Minute)
	cfg.JWT.RoleAccessTTL = map[string]Duration{"student": Duration(24 * time.Hour)}

	assert.Equal(t, 24*time.Hour, cfg.AccessTTLFor("student"))
	assert.Equal(t, 15*time.Minute, cfg.AccessTTLFor("teacher"))
}
