package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ScratchConfig struct {
	Dir string `yaml:"dir"`
}

type TTSConfig struct {
	Mode         string `yaml:"mode"` // mock, exec
	Command      string `yaml:"command"`
	VoicesDir    string `yaml:"voices_dir"`
	DefaultVoice string `yaml:"default_voice"`
	SampleRate   int    `yaml:"sample_rate"`
}

type AudioConfig struct {
	Dir              string `yaml:"dir"`
	TargetSampleRate int    `yaml:"target_sample_rate"`
	StreamFormat     string `yaml:"stream_format"`
	FileFormat       string `yaml:"file_format"`
	TranscodeCommand string `yaml:"transcode_command"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Scratch     ScratchConfig   `yaml:"scratch"`
	TTS         TTSConfig       `yaml:"tts"`
	Audio       AudioConfig     `yaml:"audio"`
}

func Default() Config {
	return Config{
		ServiceName: "quillcast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path: "./data/quillcast.db",
		},
		Scratch: ScratchConfig{
			Dir: "./data/scratch",
		},
		TTS: TTSConfig{
			Mode:         "mock",
			VoicesDir:    "./voices",
			DefaultVoice: "alba",
			SampleRate:   24000,
		},
		Audio: AudioConfig{
			Dir:              "./data/audio",
			TargetSampleRate: 24000,
			StreamFormat:     "pcm",
			FileFormat:       "mp3",
			TranscodeCommand: "ffmpeg",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "QUILLCAST_SERVICE_NAME")
	overrideString(&cfg.Environment, "QUILLCAST_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "QUILLCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "QUILLCAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "QUILLCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "QUILLCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "QUILLCAST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "QUILLCAST_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "QUILLCAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "QUILLCAST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "QUILLCAST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "QUILLCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "QUILLCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "QUILLCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "QUILLCAST_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "QUILLCAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "QUILLCAST_STORE_PATH")
	overrideString(&cfg.Scratch.Dir, "QUILLCAST_SCRATCH_DIR")
	overrideString(&cfg.TTS.Mode, "QUILLCAST_TTS_MODE")
	overrideString(&cfg.TTS.Command, "QUILLCAST_TTS_COMMAND")
	overrideString(&cfg.TTS.VoicesDir, "QUILLCAST_TTS_VOICES_DIR")
	overrideString(&cfg.TTS.DefaultVoice, "QUILLCAST_TTS_DEFAULT_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "QUILLCAST_TTS_SAMPLE_RATE")
	overrideString(&cfg.Audio.Dir, "QUILLCAST_AUDIO_DIR")
	overrideInt(&cfg.Audio.TargetSampleRate, "QUILLCAST_AUDIO_TARGET_SAMPLE_RATE")
	overrideString(&cfg.Audio.StreamFormat, "QUILLCAST_AUDIO_STREAM_FORMAT")
	overrideString(&cfg.Audio.FileFormat, "QUILLCAST_AUDIO_FILE_FORMAT")
	overrideString(&cfg.Audio.TranscodeCommand, "QUILLCAST_AUDIO_TRANSCODE_COMMAND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Scratch.Dir == "" {
		return errors.New("scratch.dir must not be empty")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.DefaultVoice == "" {
		return errors.New("tts.default_voice must not be empty")
	}
	if cfg.Audio.Dir == "" {
		return errors.New("audio.dir must not be empty")
	}
	if cfg.Audio.TargetSampleRate <= 0 {
		return errors.New("audio.target_sample_rate must be positive")
	}
	return nil
}
