package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Service struct {
	URL string `yaml:"url" mapstructure:"url"`
}
type Services struct {
	Emotion Service `yaml:"emotion" mapstructure:"emotion"`
	ASR     Service `yaml:"asr" mapstructure:"asr"` // optional; empty url disables transcription
}
type Audio struct {
	Source       string `yaml:"source" mapstructure:"source"` // file, stdin or mic
	Path         string `yaml:"path" mapstructure:"path"`
	MimeType     string `yaml:"mime_type" mapstructure:"mime_type"`
	Filename     string `yaml:"filename" mapstructure:"filename"`
	PaceBytesSec int    `yaml:"pace_bytes_per_sec" mapstructure:"pace_bytes_per_sec"`
	BufferBytes  int    `yaml:"buffer_bytes" mapstructure:"buffer_bytes"`
	SampleRate   int    `yaml:"sample_rate" mapstructure:"sample_rate"`
	Channels     int    `yaml:"channels" mapstructure:"channels"`
}
type Capture struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}
type Live struct {
	Every        int           `yaml:"every" mapstructure:"every"`
	MaxInFlight  int           `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	CallTimeout  time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	CancelOnStop bool          `yaml:"cancel_on_stop" mapstructure:"cancel_on_stop"`
}
type Sink struct {
	Format string `yaml:"format" mapstructure:"format"` // json or yaml
}
type Metrics struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}
type Root struct {
	Pipeline struct {
		Name      string `yaml:"name" mapstructure:"name"`
		LogLvl    string `yaml:"log_level" mapstructure:"log_level"`
		LogFormat string `yaml:"log_format" mapstructure:"log_format"`
	} `yaml:"pipeline" mapstructure:"pipeline"`
	Audio    Audio    `yaml:"audio" mapstructure:"audio"`
	Capture  Capture  `yaml:"capture" mapstructure:"capture"`
	Live     Live     `yaml:"live" mapstructure:"live"`
	Services Services `yaml:"services" mapstructure:"services"`
	Sink     Sink     `yaml:"sink" mapstructure:"sink"`
	Metrics  Metrics  `yaml:"metrics" mapstructure:"metrics"`
	Paths    struct {
		Outputs string `yaml:"outputs" mapstructure:"outputs"`
	} `yaml:"paths" mapstructure:"paths"`
}

const envPrefix = "PROSODY"

// SetDefaults registers every default on v. Kept separate so commands can
// bind flags against a fully populated viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "prosody-stream")
	v.SetDefault("pipeline.log_level", "info")
	v.SetDefault("pipeline.log_format", "text")

	v.SetDefault("audio.source", "file")
	v.SetDefault("audio.path", "")
	v.SetDefault("audio.mime_type", "audio/webm")
	v.SetDefault("audio.filename", "audio.webm")
	v.SetDefault("audio.pace_bytes_per_sec", 0)
	v.SetDefault("audio.buffer_bytes", 4<<20)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)

	v.SetDefault("capture.interval", 3*time.Second)

	v.SetDefault("live.every", 3)
	v.SetDefault("live.max_in_flight", 4)
	v.SetDefault("live.call_timeout", 30*time.Second)
	v.SetDefault("live.cancel_on_stop", true)

	v.SetDefault("services.emotion.url", "http://localhost:8000")
	v.SetDefault("services.asr.url", "")
	v.SetDefault("sink.format", "json")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("paths.outputs", "outputs")
}

// New returns a viper instance wired for prosody: defaults, PROSODY_* env
// overrides and the EMOTION_URL / ASR_URL shortcuts.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("services.emotion.url", envPrefix+"_SERVICES_EMOTION_URL", "EMOTION_URL"); err != nil {
		return nil, fmt.Errorf("bind EMOTION_URL: %w", err)
	}
	if err := v.BindEnv("services.asr.url", envPrefix+"_SERVICES_ASR_URL", "ASR_URL"); err != nil {
		return nil, fmt.Errorf("bind ASR_URL: %w", err)
	}
	return v, nil
}

// Load reads the config file into v. An explicit path must exist; otherwise
// config/<CONFIG_ENV>/config.yaml is tried and defaults apply when absent.
func Load(v *viper.Viper, path string) (*Root, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join("config", env))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Root
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *Root) Validate() error {
	if r.Capture.Interval <= 0 {
		return fmt.Errorf("capture.interval must be > 0, got %s", r.Capture.Interval)
	}
	if r.Live.Every <= 0 {
		return fmt.Errorf("live.every must be > 0, got %d", r.Live.Every)
	}
	if r.Live.MaxInFlight <= 0 {
		return fmt.Errorf("live.max_in_flight must be > 0, got %d", r.Live.MaxInFlight)
	}
	if r.Live.CallTimeout <= 0 {
		return fmt.Errorf("live.call_timeout must be > 0, got %s", r.Live.CallTimeout)
	}
	switch r.Audio.Source {
	case "file", "stdin", "mic":
	default:
		return fmt.Errorf("audio.source %q: want file, stdin or mic", r.Audio.Source)
	}
	switch r.Sink.Format {
	case "json", "yaml":
	default:
		return fmt.Errorf("sink.format %q: want json or yaml", r.Sink.Format)
	}
	if r.Services.Emotion.URL == "" {
		return errors.New("services.emotion.url is required (set EMOTION_URL)")
	}
	return nil
}

// Dump writes the effective configuration as YAML.
func (r *Root) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// LiveWindow is the audio span one live submission stands in for.
func (r *Root) LiveWindow() time.Duration {
	return time.Duration(r.Live.Every) * r.Capture.Interval
}
