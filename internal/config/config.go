package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BUSDENSITY_STORE_KIND
const EnvPrefix = "BUSDENSITY"

// Config holds all configuration for the pipeline, the read API and the import tool
type Config struct {
	Feed      FeedConfig     `mapstructure:"feed"`
	Store     StoreConfig    `mapstructure:"store"`
	Snapshot  SnapshotConfig `mapstructure:"snapshot"`
	Signal    SignalConfig   `mapstructure:"signal"`
	Schedule  ScheduleConfig `mapstructure:"schedule"`
	API       APIConfig      `mapstructure:"api"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Timezone  string         `mapstructure:"timezone" validate:"required"`
	Retention time.Duration  `mapstructure:"retention" validate:"gt=0"`
}

type FeedConfig struct {
	Kind    string        `mapstructure:"kind" validate:"oneof=tfl gtfsrt"`
	TfL     TfLConfig     `mapstructure:"tfl"`
	GTFSRT  GTFSRTConfig  `mapstructure:"gtfsrt"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type TfLConfig struct {
	URL    string `mapstructure:"url" validate:"required,url"`
	AppKey string `mapstructure:"app_key"`
}

type GTFSRTConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

type StoreConfig struct {
	Kind         string `mapstructure:"kind" validate:"oneof=sqlite postgres"`
	SQLitePath   string `mapstructure:"sqlite_path" validate:"required"`
	PostgresURL  string `mapstructure:"postgres_url" validate:"required_if=Kind postgres"`
	ClusterTable string `mapstructure:"cluster_table" validate:"required"`
	StopsTable   string `mapstructure:"stops_table" validate:"required"`
}

type SnapshotConfig struct {
	Dir             string        `mapstructure:"dir" validate:"required"`
	StagingName     string        `mapstructure:"staging_name" validate:"required"`
	LatestName      string        `mapstructure:"latest_name" validate:"required,nefield=StagingName"`
	PromoteAttempts int           `mapstructure:"promote_attempts" validate:"gte=1"`
	PromoteBackoff  time.Duration `mapstructure:"promote_backoff" validate:"gte=0"`
}

type SignalConfig struct {
	Kind    string   `mapstructure:"kind" validate:"oneof=log kafka"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Kind kafka"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Kind kafka"`
	JobName string   `mapstructure:"job_name" validate:"required"`
}

type ScheduleConfig struct {
	Cron     string        `mapstructure:"cron" validate:"required"`
	Cooldown time.Duration `mapstructure:"cooldown" validate:"gte=0"`
}

type APIConfig struct {
	Port           int      `mapstructure:"port" validate:"gt=0,lt=65536"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

func setDefaults(v *viper.Viper) {
	// Feed
	v.SetDefault("feed.kind", "tfl")
	v.SetDefault("feed.tfl.url", "https://api.tfl.gov.uk/Mode/bus/Arrivals")
	v.SetDefault("feed.tfl.app_key", "")
	v.SetDefault("feed.gtfsrt.url", "")
	v.SetDefault("feed.timeout", 15*time.Second)

	// Table store
	v.SetDefault("store.kind", "sqlite")
	v.SetDefault("store.sqlite_path", "data/busdensity.db")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.cluster_table", "stopspoint_coordinates_aggloclusters_enriched")
	v.SetDefault("store.stops_table", "stopspoint_coordinates")

	// Snapshot
	v.SetDefault("snapshot.dir", "data/snapshots")
	v.SetDefault("snapshot.staging_name", "temporary/arrivals_most_recent_snapshot.csv")
	v.SetDefault("snapshot.latest_name", "latest/arrivals_most_recent_snapshot.csv")
	v.SetDefault("snapshot.promote_attempts", 5)
	v.SetDefault("snapshot.promote_backoff", 2*time.Second)

	// Cycle signal
	v.SetDefault("signal.kind", "log")
	v.SetDefault("signal.brokers", []string{"localhost:9092"})
	v.SetDefault("signal.topic", "london-transport-data-topic")
	v.SetDefault("signal.job_name", "bus-density-image")

	// Scheduling
	v.SetDefault("schedule.cron", "@every 1m")
	v.SetDefault("schedule.cooldown", 10*time.Second)

	v.SetDefault("timezone", "Europe/London")
	v.SetDefault("retention", 24*time.Hour)

	// Read API
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:8501"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration from defaults, an optional YAML file and
// BUSDENSITY_* environment variables, in increasing priority. An empty path
// falls back to BUSDENSITY_CONFIG, then to configs/config.yaml if present.
func Load(path string) (*Config, error) {
	// .env first, then .env.local which overrides it for local development
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Feed.TfL.AppKey == "" {
		cfg.Feed.TfL.AppKey = os.Getenv("TFL_APP_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the cross-section rules tags cannot express
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Feed.Kind == "gtfsrt" && c.Feed.GTFSRT.URL == "" {
		return errors.New("invalid config: feed.gtfsrt.url is required when feed.kind is gtfsrt")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the zone pulledAt timestamps are rendered in
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
