package model

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StageDiscovery = "discovery"
	StageReceiver  = "receiver"
	StageScanner   = "scanner"

	ModeAwaited  = "awaited"
	ModeDetached = "detached"

	LogFormatJSON = "json"
	LogFormatText = "text"

	EnvPrefix = "RECON"
)

type Config struct {
	Verbose  bool     `mapstructure:"verbose" yaml:"verbose"`
	Log      Log      `mapstructure:"log" yaml:"log"`
	Server   Server   `mapstructure:"server" yaml:"server"`
	Pipeline Pipeline `mapstructure:"pipeline" yaml:"pipeline"`
	Schedule Schedule `mapstructure:"schedule" yaml:"schedule"`
}

type Log struct {
	Format string `mapstructure:"format" yaml:"format"` // "json" | "text"
}

type Server struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	StaticDir       string        `mapstructure:"static_dir" yaml:"static_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"-"`
}

func (s Server) MarshalYAML() (any, error) {
	return struct {
		Addr            string `yaml:"addr"`
		StaticDir       string `yaml:"static_dir"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	}{s.Addr, s.StaticDir, s.ShutdownTimeout.String()}, nil
}

// Pipeline configures the external tools. Every stage runs with BaseDir
// as its working directory.
type Pipeline struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	Threads int    `mapstructure:"threads" yaml:"threads"`
	Stages  Stages `mapstructure:"stages" yaml:"stages"`
}

type Stages struct {
	Discovery Stage `mapstructure:"discovery" yaml:"discovery"`
	Receiver  Stage `mapstructure:"receiver" yaml:"receiver"`
	Scanner   Stage `mapstructure:"scanner" yaml:"scanner"`
}

// Stage is a single external tool invocation. Delay is counted from the
// start of the previous stage.
type Stage struct {
	Path    string            `mapstructure:"path"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Mode    string            `mapstructure:"mode"`
	Delay   time.Duration     `mapstructure:"delay"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

func (s Stage) MarshalYAML() (any, error) {
	out := struct {
		Path    string            `yaml:"path"`
		Args    []string          `yaml:"args,omitempty"`
		Env     map[string]string `yaml:"env,omitempty"`
		Mode    string            `yaml:"mode"`
		Delay   string            `yaml:"delay,omitempty"`
		Timeout string            `yaml:"timeout,omitempty"`
	}{Path: s.Path, Args: s.Args, Env: s.Env, Mode: s.Mode}
	if s.Delay != 0 {
		out.Delay = s.Delay.String()
	}
	if s.Timeout != 0 {
		out.Timeout = s.Timeout.String()
	}
	return out, nil
}

// Environ returns the process environment for the stage, nil means the
// environment of the current process is inherited.
func (s Stage) Environ() []string {
	if len(s.Env) == 0 {
		return nil
	}
	env := os.Environ()
	for k, v := range s.Env {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}

// Schedule triggers a periodic run for a fixed domain, disabled when Cron is empty.
type Schedule struct {
	Cron   string `mapstructure:"cron" yaml:"cron"`
	Domain string `mapstructure:"domain" yaml:"domain"`
	URL    string `mapstructure:"url" yaml:"url"`
}

func DefaultConfig() Config {
	return Config{
		Log: Log{Format: LogFormatJSON},
		Server: Server{
			Addr:            ":3000",
			StaticDir:       "public",
			ShutdownTimeout: 10 * time.Second,
		},
		Pipeline: Pipeline{
			BaseDir: "data/Files",
			Threads: 500,
			Stages: Stages{
				Discovery: Stage{
					Path: "./ip-range-recon.sh",
					Mode: ModeAwaited,
				},
				Receiver: Stage{
					Path: "python3",
					Args: []string{"server.py"},
					Mode: ModeDetached,
				},
				Scanner: Stage{
					Path:  "python3",
					Args:  []string{"scanner.py"},
					Mode:  ModeDetached,
					Delay: 4 * time.Second,
				},
			},
		},
	}
}

// SetDefaults registers every key of DefaultConfig, so viper can bind
// RECON_* environment variables to them.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.static_dir", d.Server.StaticDir)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("pipeline.base_dir", d.Pipeline.BaseDir)
	v.SetDefault("pipeline.threads", d.Pipeline.Threads)
	for name, st := range map[string]Stage{
		StageDiscovery: d.Pipeline.Stages.Discovery,
		StageReceiver:  d.Pipeline.Stages.Receiver,
		StageScanner:   d.Pipeline.Stages.Scanner,
	} {
		prefix := "pipeline.stages." + name + "."
		v.SetDefault(prefix+"path", st.Path)
		v.SetDefault(prefix+"args", st.Args)
		v.SetDefault(prefix+"mode", st.Mode)
		v.SetDefault(prefix+"delay", st.Delay)
		v.SetDefault(prefix+"timeout", st.Timeout)
	}
	v.SetDefault("schedule.cron", d.Schedule.Cron)
	v.SetDefault("schedule.domain", d.Schedule.Domain)
	v.SetDefault("schedule.url", d.Schedule.URL)
}

// NewViper returns a viper instance with defaults and RECON_ environment
// overrides, e.g. RECON_SERVER_ADDR.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// LoadConfig decodes and validates the configuration held by v.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case LogFormatJSON, LogFormatText:
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported value %q", c.Log.Format))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr: empty"))
	}
	if c.Pipeline.BaseDir == "" {
		errs = append(errs, errors.New("pipeline.base_dir: empty"))
	}
	if c.Pipeline.Threads <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.threads: must be positive, got %d", c.Pipeline.Threads))
	}
	for name, st := range map[string]Stage{
		StageDiscovery: c.Pipeline.Stages.Discovery,
		StageReceiver:  c.Pipeline.Stages.Receiver,
		StageScanner:   c.Pipeline.Stages.Scanner,
	} {
		prefix := "pipeline.stages." + name
		if st.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path: empty", prefix))
		}
		if st.Mode != ModeAwaited && st.Mode != ModeDetached {
			errs = append(errs, fmt.Errorf("%s.mode: expected %s or %s, got %q", prefix, ModeAwaited, ModeDetached, st.Mode))
		}
		if st.Delay < 0 {
			errs = append(errs, fmt.Errorf("%s.delay: negative", prefix))
		}
		if st.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout: negative", prefix))
		}
	}
	if c.Schedule.Cron != "" && c.Schedule.Domain == "" {
		errs = append(errs, errors.New("schedule.domain: required when schedule.cron is set"))
	}
	return errors.Join(errs...)
}
