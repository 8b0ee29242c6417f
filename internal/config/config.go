package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration acepta "500ms", "2s", etc. tanto en YAML como en entorno.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	HTTP struct {
		Bind string `yaml:"bind" env:"CHATFORGE_HTTP_BIND"`
		Port int    `yaml:"port" env:"CHATFORGE_HTTP_PORT"`
		TLS  struct {
			Enabled bool   `yaml:"enabled"`
			Cert    string `yaml:"cert"`
			Key     string `yaml:"key"`
		} `yaml:"tls"`
	} `yaml:"http"`
	Auth struct {
		JWTPublicKeys []string `yaml:"jwt_public_keys"` // rutas a PEM
		Issuer        string   `yaml:"issuer"`
		Audience      string   `yaml:"audience"`
	} `yaml:"auth"`
	Logging struct {
		Level string `yaml:"level" env:"CHATFORGE_LOG_LEVEL"`
		JSON  bool   `yaml:"json" env:"CHATFORGE_LOG_JSON"`
	} `yaml:"logging"`
	Bus struct {
		MaxHistory    int      `yaml:"max_history"`
		SlowThreshold Duration `yaml:"slow_threshold"`
		RateLimit     struct {
			Max    int      `yaml:"max"`
			Window Duration `yaml:"window"`
		} `yaml:"rate_limit"`
		Dedup struct {
			Enabled bool     `yaml:"enabled"`
			TTL     Duration `yaml:"ttl"`
		} `yaml:"dedup"`
		// allow-lists del middleware de permisos; vacíos lo desactivan
		AllowedSources []string `yaml:"allowed_sources"`
		AllowedTypes   []string `yaml:"allowed_types"`
	} `yaml:"bus"`
	Sync struct {
		PeerURL  string `yaml:"peer_url" env:"CHATFORGE_SYNC_PEER"`
		Insecure bool   `yaml:"insecure"`
	} `yaml:"sync"`
	Plugins struct {
		Dir         string   `yaml:"dir" env:"CHATFORGE_PLUGINS_DIR"`
		PrivateBus  bool     `yaml:"private_bus"`
		HTTPBase    string   `yaml:"http_base"`
		HTTPTimeout Duration `yaml:"http_timeout"`
	} `yaml:"plugins"`
	Storage struct {
		Driver string `yaml:"driver" env:"CHATFORGE_STORAGE_DRIVER"` // memory | sqlite
		Path   string `yaml:"path" env:"CHATFORGE_STORAGE_PATH"`
	} `yaml:"storage"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	// el entorno pisa al fichero
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Bus.MaxHistory == 0 {
		c.Bus.MaxHistory = 100
	}
	if c.Bus.SlowThreshold == 0 {
		c.Bus.SlowThreshold = Duration(250 * time.Millisecond)
	}
	if c.Bus.RateLimit.Window == 0 {
		c.Bus.RateLimit.Window = Duration(time.Second)
	}
	if c.Bus.Dedup.TTL == 0 {
		c.Bus.Dedup.TTL = Duration(5 * time.Second)
	}
	if c.Plugins.Dir == "" {
		c.Plugins.Dir = "/etc/chatforge/plugins"
	}
	if c.Plugins.HTTPTimeout == 0 {
		c.Plugins.HTTPTimeout = Duration(10 * time.Second)
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
}
