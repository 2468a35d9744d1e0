package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/Recon/internal/model"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const reconConfig = `
verbose: true
server:
  addr: "127.0.0.1:8080"
pipeline:
  base_dir: /srv/recon
  stages:
    scanner:
      path: /usr/bin/python3
      args:
        - scanner.py
      mode: detached
      delay: "250ms"
      env:
        HOME: $HOME
        GODEBUG: "x509negativeserial=1"
schedule:
  cron: "@hourly"
  domain: example.com
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	v := model.NewViper()
	require.NoError(t, v.ReadConfig(strings.NewReader(reconConfig)))

	cfg, err := model.LoadConfig(v)
	require.NoError(t, err)
	t.Logf("got: %+v", cfg)

	require.True(t, cfg.Verbose)
	require.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	require.Equal(t, "public", cfg.Server.StaticDir)
	require.Equal(t, "/srv/recon", cfg.Pipeline.BaseDir)
	require.Equal(t, 500, cfg.Pipeline.Threads)

	require.Equal(t, "./ip-range-recon.sh", cfg.Pipeline.Stages.Discovery.Path)
	require.Equal(t, model.ModeAwaited, cfg.Pipeline.Stages.Discovery.Mode)
	require.Equal(t, []string{"server.py"}, cfg.Pipeline.Stages.Receiver.Args)

	scanner := cfg.Pipeline.Stages.Scanner
	require.Equal(t, "/usr/bin/python3", scanner.Path)
	require.Equal(t, 250*time.Millisecond, scanner.Delay)
	require.Contains(t, scanner.Env["godebug"], "x509negativeserial=1")
	require.Contains(t, scanner.Environ(), "GODEBUG=x509negativeserial=1")

	require.Equal(t, "@hourly", cfg.Schedule.Cron)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := model.LoadConfig(model.NewViper())
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(), cfg)
	require.Equal(t, 4*time.Second, cfg.Pipeline.Stages.Scanner.Delay)
	require.Nil(t, cfg.Pipeline.Stages.Discovery.Environ())
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Parallel()
	v := model.NewViper()
	require.NoError(t, v.ReadConfig(strings.NewReader(`
log:
  format: xml
pipeline:
  threads: 0
  stages:
    receiver:
      mode: background
schedule:
  cron: "@daily"
`)))
	_, err := model.LoadConfig(v)
	require.Error(t, err)
	require.ErrorContains(t, err, `log.format: unsupported value "xml"`)
	require.ErrorContains(t, err, "pipeline.threads: must be positive, got 0")
	require.ErrorContains(t, err, `pipeline.stages.receiver.mode: expected awaited or detached, got "background"`)
	require.ErrorContains(t, err, "schedule.domain: required when schedule.cron is set")
}

func TestDefaultConfigYAML(t *testing.T) {
	t.Parallel()
	raw, err := yaml.Marshal(model.DefaultConfig())
	require.NoError(t, err)
	require.Contains(t, string(raw), "delay: 4s")
	require.Contains(t, string(raw), "shutdown_timeout: 10s")

	// a written default config loads back to the same values
	v := model.NewViper()
	require.NoError(t, v.ReadConfig(strings.NewReader(string(raw))))
	cfg, err := model.LoadConfig(v)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(), cfg)
}
