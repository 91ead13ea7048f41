package config

import (
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options are command-line and environment overrides. Set values take
// precedence over the config file.
type Options struct {
	ConfigFile string `short:"c" long:"config" env:"RELAY_CONFIG" description:"YAML config file"`
	URL        string `long:"url" env:"RELAY_SERVER_URL" description:"Real-time server base URL (e.g. https://relief.example.org)"`
	Token      string `long:"token" env:"RELAY_TOKEN" description:"Bearer token sent with the handshake"`
	UserID     string `long:"user-id" env:"RELAY_USER_ID" description:"User id to register as"`
	Role       string `long:"role" env:"RELAY_ROLE" choice:"citizen" choice:"official" description:"Role to register as"`
	Name       string `long:"name" env:"RELAY_USER_NAME" description:"Display name sent at registration"`
	Email      string `long:"email" env:"RELAY_USER_EMAIL" description:"Email sent at registration"`
	Record     bool   `long:"record" env:"RELAY_RECORD" description:"Record inbound events to the database"`
	HealthPort int    `long:"health-port" env:"RELAY_HEALTH_PORT" description:"Port for /health and /debug/requests, 0 disables"`
	LogLevel   string `long:"log-level" env:"RELAY_LOG_LEVEL" description:"Log level: debug, info, warn, error"`
	LogFormat  string `long:"log-format" env:"RELAY_LOG_FORMAT" description:"Log format: text or json"`
	Debug      bool   `long:"debug" env:"RELAY_DEBUG" description:"Shorthand for --log-level=debug"`
}

// Parse loads a .env file from the working directory if present, then
// parses args into data. data is usually an Options or a struct embedding
// one.
func Parse(data any, args []string) ([]string, error) {
	_ = godotenv.Load()
	return flags.NewParser(data, flags.Default).ParseArgs(args)
}

// ParseOptions parses relay options from args.
func ParseOptions(args []string) (Options, error) {
	opts := Options{}
	if _, err := Parse(&opts, args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// apply copies every set option into cfg.
func (o Options) apply(cfg *RelayConfig) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}

	set(&cfg.Server.URL, o.URL)
	set(&cfg.Identity.UserID, o.UserID)
	set(&cfg.Identity.Role, o.Role)
	set(&cfg.Identity.Name, o.Name)
	set(&cfg.Identity.Email, o.Email)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Logging.Format, o.LogFormat)

	if token := strings.TrimSpace(o.Token); token != "" {
		if cfg.Server.Headers == nil {
			cfg.Server.Headers = make(map[string]string)
		}
		cfg.Server.Headers["Authorization"] = "Bearer " + token
	}
	if o.Record {
		cfg.Recorder.Enabled = true
	}
	if o.HealthPort != 0 {
		cfg.Health.Port = o.HealthPort
	}
	if o.Debug {
		cfg.Logging.Level = "debug"
	}
}
