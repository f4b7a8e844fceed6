package application

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

func newTestLoader(t *testing.T, env map[string]string) *ConfigLoader {
	t.Helper()
	l, err := NewConfigLoader()
	require.NoError(t, err)
	l.getenv = func(k string) string { return env[k] }
	return l
}

// TestConfigLoader_Load covers parsing, defaults and validation failures.
func TestConfigLoader_Load(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		errMsg  string
		verify  func(t *testing.T, cfg Config)
	}{
		{
			name: "empty input uses defaults",
			yaml: "",
			verify: func(t *testing.T, cfg Config) {
				assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
				assert.Equal(t, "data", cfg.Storage.Path)
				assert.False(t, cfg.Cache.Enabled())
				assert.NotEmpty(t, cfg.Disciplines, "built-in table is used")
			},
		},
		{
			name: "full config",
			yaml: `
server:
  addr: "0.0.0.0:9090"
  rate_limit: 5
  rate_burst: 10
  shutdown_timeout: 3s
storage:
  in_memory: true
cache:
  addr: "localhost:6379"
  ttl: 30s
logging:
  level: debug
disciplines:
  - name: "3x3x3 Cube"
    code: "3x3"
    max_time_minutes: 10
    rule:
      attempts_count: 5
      average_calculation_type: ao5
      dnf_threshold: 600
`,
			verify: func(t *testing.T, cfg Config) {
				assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr)
				assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
				assert.True(t, cfg.Storage.InMemory)
				assert.True(t, cfg.Cache.Enabled())
				assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
				assert.Equal(t, "debug", cfg.Logging.Level)
				require.Len(t, cfg.Disciplines, 1)
				assert.Equal(t, domain.PolicyAverageOf5, cfg.Disciplines[0].Rule.Policy)
			},
		},
		{
			name:    "unknown field",
			yaml:    "server:\n  address: \"x:1\"\n",
			wantErr: true,
			errMsg:  "field address not found",
		},
		{
			name:    "bad log level",
			yaml:    "logging:\n  level: loud\n",
			wantErr: true,
			errMsg:  "loglevel",
		},
		{
			name: "unknown policy",
			yaml: `
disciplines:
  - name: "Cube"
    code: "3x3"
    rule: {attempts_count: 5, average_calculation_type: median}
`,
			wantErr: true,
			errMsg:  "policy",
		},
		{
			name: "uppercase code",
			yaml: `
disciplines:
  - name: "Cube"
    code: "3X3"
    rule: {attempts_count: 5, average_calculation_type: ao5}
`,
			wantErr: true,
			errMsg:  "disccode",
		},
		{
			name: "attempt count does not fit policy",
			yaml: `
disciplines:
  - name: "Cube"
    code: "3x3"
    rule: {attempts_count: 3, average_calculation_type: ao5}
`,
			wantErr: true,
			errMsg:  "ao5 requires 5 attempts",
		},
		{
			name: "duplicate codes",
			yaml: `
disciplines:
  - name: "Cube"
    code: "3x3"
    rule: {attempts_count: 5, average_calculation_type: ao5}
  - name: "Cube again"
    code: "3x3"
    rule: {attempts_count: 5, average_calculation_type: ao5}
`,
			wantErr: true,
			errMsg:  "duplicate discipline code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := newTestLoader(t, nil).Load(strings.NewReader(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration), "got %v", err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			tt.verify(t, cfg)
		})
	}
}

func TestConfigLoader_EnvOverrides(t *testing.T) {
	l := newTestLoader(t, map[string]string{
		EnvStoragePath:       "/var/lib/cubecomp",
		EnvHTTPAddr:          ":7070",
		EnvRedisAddr:         "redis:6379",
		EnvLogLevel:          "warn",
		"CUBECOMP_RATE_LIMIT": "2.5",
	})

	cfg, err := l.Load(strings.NewReader("storage:\n  in_memory: true\n"))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cubecomp", cfg.Storage.Path)
	assert.False(t, cfg.Storage.InMemory, "an explicit path wins over in-memory")
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "redis:6379", cfg.Cache.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)

	_, err = newTestLoader(t, map[string]string{"CUBECOMP_RATE_LIMIT": "fast"}).Load(strings.NewReader(""))
	var cfgErr *ports.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestConfigLoader_LoadFile(t *testing.T) {
	l := newTestLoader(t, nil)

	t.Run("missing file", func(t *testing.T) {
		_, err := l.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.True(t, errors.Is(err, ports.ErrConfigNotFound))
	})

	t.Run("file on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cubecomp.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \"127.0.0.1:1234\"\n"), 0o600))

		cfg, err := l.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:1234", cfg.Server.Addr)
	})

	t.Run("no path", func(t *testing.T) {
		cfg, err := l.LoadFile("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
	})
}

// TestDefaultDisciplines checks the embedded table is internally valid.
func TestDefaultDisciplines(t *testing.T) {
	table, err := DefaultDisciplines()
	require.NoError(t, err)
	require.NotEmpty(t, table)
	require.NoError(t, validateDisciplineTable(table))

	v, err := NewValidator()
	require.NoError(t, err)
	for _, d := range table {
		assert.NoError(t, v.Struct(d), d.Code)
	}

	codes := make(map[string]domain.AveragingPolicy)
	for _, d := range table {
		codes[d.Code] = d.Rule.Policy
	}
	assert.Equal(t, domain.PolicyAverageOf5, codes["3x3"])
	assert.Equal(t, domain.PolicyMeanOf3, codes["7x7"])
	assert.Equal(t, domain.PolicyBestOf3, codes["3bld"])
}

func TestValidators(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	type probe struct {
		Code   string `validate:"disccode"`
		Policy string `validate:"policy"`
		Level  string `validate:"loglevel"`
	}

	assert.NoError(t, v.Struct(probe{Code: "3bld", Policy: "mean_of_3", Level: "info"}))
	assert.Error(t, v.Struct(probe{Code: "3 bld", Policy: "mean_of_3", Level: "info"}))
	assert.Error(t, v.Struct(probe{Code: "3bld", Policy: "ao12", Level: "info"}))
	assert.Error(t, v.Struct(probe{Code: "3bld", Policy: "ao5", Level: "verbose"}))
}
