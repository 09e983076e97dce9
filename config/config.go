package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chzchzchz/duocap/capture"
	"github.com/chzchzchz/duocap/logging"
	"github.com/chzchzchz/duocap/radio"
)

const EnvPrefix = "DUOCAP"

// Config is everything the capture command reads from flags, DUOCAP_*
// environment variables and an optional config file.
type Config struct {
	Frequency      []string `mapstructure:"frequency"`
	Samples        []string `mapstructure:"samples"`
	SampleRate     string   `mapstructure:"sample-rate"`
	Gain           float64  `mapstructure:"gain"`
	PPM            int      `mapstructure:"ppm"`
	DirectSampling bool     `mapstructure:"direct-sampling"`

	TransferUnit uint32 `mapstructure:"transfer-unit"`
	TransferCap  uint32 `mapstructure:"transfer-cap"`
	Buffers      int    `mapstructure:"buffers"`
	Sync         bool   `mapstructure:"sync"`

	DeviceID    string `mapstructure:"device"`
	Backend     string `mapstructure:"backend"`
	RTLTCPAddr  string `mapstructure:"rtltcp-addr"`
	RTLTCPSpawn bool   `mapstructure:"rtltcp-spawn"`

	LogLevel    string `mapstructure:"log-level"`
	MetricsAddr string `mapstructure:"metrics-addr"`
}

// AddFlags registers the capture flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.StringSliceP("frequency", "f", nil, "Center frequency in Hz (k/M/G suffixes); give twice to alternate")
	fs.StringSliceP("samples", "n", nil, "Samples to read, or samples per block when alternating")
	fs.StringP("sample-rate", "s", "2.048M", "Sample rate in Hz")
	fs.Float64P("gain", "g", 0, "Tuner gain in dB (0 for auto)")
	fs.IntP("ppm", "p", 0, "Frequency correction in ppm")
	fs.BoolP("direct-sampling", "D", false, "Enable direct sampling (Q branch)")
	fs.Uint32P("transfer-unit", "b", 0, "Transfer unit in bytes (0 to plan automatically)")
	fs.Uint32("transfer-cap", capture.DefaultTransferCap, "Largest planned transfer unit in bytes")
	fs.Int("buffers", 0, "Number of async buffers (0 for driver default)")
	fs.BoolP("sync", "S", false, "Use synchronous reads")
	fs.StringP("device", "d", "0", "Device index or serial number")
	fs.String("backend", string(radio.BackendUSB), "Device backend: usb or rtltcp")
	fs.String("rtltcp-addr", radio.DefaultRTLTCPAddr, "rtl_tcp server address")
	fs.Bool("rtltcp-spawn", false, "Start rtl_tcp before connecting")
	fs.String("log-level", "info", "Log level: trace, debug, info, warn or error")
	fs.String("metrics-addr", "", "Serve prometheus metrics on this address")
}

func initViper(configPath, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "duocap"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("duocap")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			logging.Error("could not read config file", logging.Fields{
				logging.FieldConfigPath: configPath,
				logging.FieldError:      err,
			})
			return nil, fmt.Errorf("%w: read config: %v", capture.ErrConfig, err)
		}
	} else {
		logging.Debug("loaded config file", logging.Fields{logging.FieldConfigPath: v.ConfigFileUsed()})
	}
	return v, nil
}

// Load merges fs with the environment and the config file at configPath.
// An empty configPath searches ~/.config/duocap and the working directory.
func Load(fs *pflag.FlagSet, configPath string) (*Config, error) {
	v, err := initViper(configPath, EnvPrefix)
	if err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("%w: bind flags: %v", capture.ErrConfig, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", capture.ErrConfig, err)
	}
	return &cfg, nil
}

// Capture converts the engine settings. Errors wrap capture.ErrConfig.
func (c *Config) Capture() (capture.Config, error) {
	out := capture.Config{
		TransferUnit: c.TransferUnit,
		TransferCap:  c.TransferCap,
		Buffers:      c.Buffers,
		Sync:         c.Sync,
	}
	for _, f := range splitList(c.Frequency) {
		hz, err := radio.ParseHz(f)
		if err != nil {
			return capture.Config{}, fmt.Errorf("%w: frequency: %v", capture.ErrConfig, err)
		}
		out.FrequenciesHz = append(out.FrequenciesHz, hz)
	}
	for _, n := range splitList(c.Samples) {
		samples, err := parseCount(n)
		if err != nil {
			return capture.Config{}, fmt.Errorf("%w: samples: %v", capture.ErrConfig, err)
		}
		out.BlockSamples = append(out.BlockSamples, samples)
	}
	return out, nil
}

// Device converts the radio settings.
func (c *Config) Device() (radio.DeviceConfig, error) {
	rate, err := radio.ParseHz(c.SampleRate)
	if err != nil {
		return radio.DeviceConfig{}, fmt.Errorf("%w: sample rate: %v", capture.ErrConfig, err)
	}
	if err := radio.CheckSampleRate(rate); err != nil {
		return radio.DeviceConfig{}, fmt.Errorf("%w: %w", capture.ErrConfig, err)
	}
	backend := radio.Backend(strings.ToLower(strings.TrimSpace(c.Backend)))
	switch backend {
	case "":
		backend = radio.BackendUSB
	case radio.BackendUSB, radio.BackendRTLTCP:
	default:
		return radio.DeviceConfig{}, fmt.Errorf("%w: %w: %q", capture.ErrConfig, radio.ErrUnknownBackend, c.Backend)
	}
	return radio.DeviceConfig{
		Backend:        backend,
		Device:         c.DeviceID,
		Addr:           c.RTLTCPAddr,
		Spawn:          c.RTLTCPSpawn,
		SampleRate:     rate,
		Gain:           radio.GainDB(c.Gain),
		PPM:            c.PPM,
		DirectSampling: c.DirectSampling,
	}, nil
}

// splitList flattens comma separated entries, which is how lists arrive
// from the environment.
func splitList(in []string) (out []string) {
	for _, s := range in {
		for _, v := range strings.Split(s, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// parseCount accepts plain and exponent notation, e.g. "2048" or "1e6".
func parseCount(s string) (uint32, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("bad sample count %q", s)
	}
	if f < 0 || f > float64(^uint32(0)) || f != float64(uint64(f)) {
		return 0, fmt.Errorf("sample count %q out of range", s)
	}
	return uint32(f), nil
}
