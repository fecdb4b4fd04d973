// Package config loads environment-driven configuration for the dixcover
// service.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the service reads from the environment.
type Config struct {
	ListenAddr string

	DB      DBConfig
	APIKeys APIKeysConfig
	Notify  NotifyConfig
	Prober  ProberConfig
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// DSN renders the pgx connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// APIKeysConfig holds per-source API keys. Each is optional; an empty key
// disables the corresponding source at the service level.
type APIKeysConfig struct {
	Shodan     string
	OTX        string
	VirusTotal string
}

// NotifyConfig holds webhook sink settings. A sink is enabled by the
// presence of its URL.
type NotifyConfig struct {
	SlackWebhookURL   string
	DiscordWebhookURL string
	SlackMention      string // "here" or "channel"
	DiscordMention    string // "here" or "everyone"
}

// ProberConfig holds liveness probe tunables.
type ProberConfig struct {
	MaxWorkers         int
	Timeout            time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	Ports              []int
	InsecureSkipVerify bool
}

// DefaultProberPorts are tried after the default https/http attempts:
// secure alt port first, then common development ports.
var DefaultProberPorts = []int{8443, 8080, 8000, 3000}

// envAliases maps a viper key to the environment variables that can set it,
// first match wins. The POSTGRES_* names mirror the official postgres image
// so a compose file needs only one set of variables.
var envAliases = map[string][]string{
	"db.host":     {"DB_HOST_IP", "POSTGRES_HOST"},
	"db.port":     {"DB_PORT", "POSTGRES_PORT"},
	"db.user":     {"DB_USER", "POSTGRES_USER"},
	"db.password": {"DB_PASSWORD", "POSTGRES_PASSWORD"},
	"db.name":     {"DB_NAME", "POSTGRES_DB"},

	"listen_addr": {"LISTEN_ADDR"},

	"keys.shodan":      {"SHODAN_API_KEY"},
	"keys.otx":         {"OTX_API_KEY"},
	"keys.virus_total": {"VIRUS_TOTAL_API_KEY"},

	"notify.slack_webhook_url":   {"SLACK_WEBHOOK_URL"},
	"notify.discord_webhook_url": {"DISCORD_WEBHOOK_URL"},
	"notify.slack_mention":       {"SLACK_MENTION"},
	"notify.discord_mention":     {"DISCORD_MENTION"},

	"prober.max_workers":          {"PROBER_MAX_WORKERS"},
	"prober.timeout":              {"PROBER_TIMEOUT"},
	"prober.max_retries":          {"PROBER_MAX_RETRIES"},
	"prober.retry_delay":          {"PROBER_RETRY_DELAY"},
	"prober.ports":                {"PROBER_PORTS"},
	"prober.insecure_skip_verify": {"PROBER_INSECURE_SKIP_VERIFY"},
}

// Load reads configuration from the environment. getenv is injectable for
// testing; pass os.Getenv in production.
func Load(getenv func(string) string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, envs := range envAliases {
		for _, env := range envs {
			if val := getenv(env); val != "" {
				v.Set(key, val)
				break
			}
		}
	}

	cfg := &Config{
		ListenAddr: v.GetString("listen_addr"),
		DB: DBConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetInt("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
		},
		APIKeys: APIKeysConfig{
			Shodan:     v.GetString("keys.shodan"),
			OTX:        v.GetString("keys.otx"),
			VirusTotal: v.GetString("keys.virus_total"),
		},
		Notify: NotifyConfig{
			SlackWebhookURL:   v.GetString("notify.slack_webhook_url"),
			DiscordWebhookURL: v.GetString("notify.discord_webhook_url"),
			SlackMention:      strings.ToLower(strings.TrimSpace(v.GetString("notify.slack_mention"))),
			DiscordMention:    strings.ToLower(strings.TrimSpace(v.GetString("notify.discord_mention"))),
		},
		Prober: ProberConfig{
			MaxWorkers:         v.GetInt("prober.max_workers"),
			Timeout:            v.GetDuration("prober.timeout"),
			MaxRetries:         v.GetInt("prober.max_retries"),
			RetryDelay:         v.GetDuration("prober.retry_delay"),
			InsecureSkipVerify: v.GetBool("prober.insecure_skip_verify"),
		},
	}

	ports, err := parsePorts(v.GetString("prober.ports"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROBER_PORTS: %w", err)
	}
	cfg.Prober.Ports = ports

	if cfg.DB.Host == "" {
		return nil, fmt.Errorf("missing database host: set DB_HOST_IP or POSTGRES_HOST")
	}
	if cfg.DB.User == "" || cfg.DB.Name == "" {
		return nil, fmt.Errorf("incomplete database config: DB_USER and DB_NAME are required")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("db.port", 5432)
	v.SetDefault("prober.max_workers", 20)
	v.SetDefault("prober.timeout", "5s")
	v.SetDefault("prober.max_retries", 1)
	v.SetDefault("prober.retry_delay", "1s")
	v.SetDefault("prober.ports", "8443,8080,8000,3000")
	v.SetDefault("prober.insecure_skip_verify", false)
}

// parsePorts parses a comma-separated port list.
func parsePorts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return append([]int(nil), DefaultProberPorts...), nil
	}
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil || p < 1 || p > 65535 {
			return nil, fmt.Errorf("bad port %q", part)
		}
		ports = append(ports, p)
	}
	return ports, nil
}
