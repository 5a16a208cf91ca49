package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Channel struct {
		URL          string        `yaml:"url"`
		Token        string        `yaml:"token"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"channel"`

	WebRTC struct {
		ICEServers []string `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Chat struct {
		TypingWindow     time.Duration `yaml:"typing_window"`
		DeliveryAckDelay time.Duration `yaml:"delivery_ack_delay"`
	} `yaml:"chat"`

	Media struct {
		AudioFile string `yaml:"audio_file"`
		VideoFile string `yaml:"video_file"`
	} `yaml:"media"`

	Monitoring struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Channel.URL == "" {
		return fmt.Errorf("channel.url must not be empty")
	}
	if c.Channel.PingInterval <= 0 {
		return fmt.Errorf("channel.ping_interval must be > 0")
	}
	if c.Channel.PongTimeout <= c.Channel.PingInterval {
		return fmt.Errorf("channel.pong_timeout must be > channel.ping_interval")
	}
	if c.Channel.WriteTimeout <= 0 {
		return fmt.Errorf("channel.write_timeout must be > 0")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	if c.Chat.TypingWindow <= 0 {
		return fmt.Errorf("chat.typing_window must be > 0")
	}
	if c.Chat.DeliveryAckDelay < 0 {
		return fmt.Errorf("chat.delivery_ack_delay must be >= 0")
	}

	if c.Monitoring.Enabled && c.Monitoring.Address == "" {
		return fmt.Errorf("monitoring.address must not be empty when monitoring.enabled=true")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Channel.URL = "ws://localhost:4000/socket"
	cfg.Channel.PingInterval = 30 * time.Second
	cfg.Channel.PongTimeout = 60 * time.Second
	cfg.Channel.WriteTimeout = 10 * time.Second

	cfg.WebRTC.ICEServers = []string{"stun:stun.l.google.com:19302"}

	cfg.Chat.TypingWindow = time.Second
	cfg.Chat.DeliveryAckDelay = 500 * time.Millisecond

	cfg.Media.AudioFile = "media/audio.ogg"
	cfg.Media.VideoFile = "media/video.ivf"

	cfg.Monitoring.Enabled = true
	cfg.Monitoring.Address = "127.0.0.1:6060"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("PEERCHAT_CHANNEL_URL"); url != "" {
		c.Channel.URL = url
	}
	if token := os.Getenv("PEERCHAT_TOKEN"); token != "" {
		c.Channel.Token = token
	}
	if level := os.Getenv("PEERCHAT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("PEERCHAT_MONITORING_ADDRESS"); addr != "" {
		c.Monitoring.Address = addr
	}
	if url := os.Getenv("PEERCHAT_JAEGER_URL"); url != "" {
		c.Tracing.JaegerURL = url
	}
}
