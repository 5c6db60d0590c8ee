package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

// Config holds every tunable the server reads from the environment.
// A .env file in the working directory is loaded automatically.
type Config struct {
	Port       int    `env:"PORT" envDefault:"3000"`
	UploadRoot string `env:"UPLOAD_ROOT" envDefault:"uploads"`

	// Retention for step artifacts (images, stroke logs). The sweep runs
	// periodically and removes anything older than this many days.
	RetentionDays int           `env:"TELEPHONE_RETENTION_DAYS" envDefault:"7"`
	SweepInterval time.Duration `env:"TELEPHONE_SWEEP_INTERVAL" envDefault:"6h"`

	// Advisory phase durations. Deadlines built from these are broadcast
	// for client display only and are never enforced server-side.
	DrawDuration     time.Duration `env:"TELEPHONE_DRAW_DURATION" envDefault:"60s"`
	DescribeDuration time.Duration `env:"TELEPHONE_DESCRIBE_DURATION" envDefault:"60s"`

	// Delay between "everyone submitted" and the automatic phase change,
	// so the triggering submit broadcast reaches clients first.
	AdvanceDelay      time.Duration `env:"TELEPHONE_ADVANCE_DELAY" envDefault:"1s"`
	TopicAdvanceDelay time.Duration `env:"TELEPHONE_TOPIC_ADVANCE_DELAY" envDefault:"100ms"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"5242880"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set in the
// environment. Tests build servers from this.
func Default() Config {
	return Config{
		Port:              3000,
		UploadRoot:        "uploads",
		RetentionDays:     7,
		SweepInterval:     6 * time.Hour,
		DrawDuration:      60 * time.Second,
		DescribeDuration:  60 * time.Second,
		AdvanceDelay:      time.Second,
		TopicAdvanceDelay: 100 * time.Millisecond,
		MaxUploadBytes:    5 << 20,
	}
}
