package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Game     GameConfig     `mapstructure:"game"`
	Report   ReportConfig   `mapstructure:"report"`
	Tables   []TableConfig  `mapstructure:"tables"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Mode     string `mapstructure:"mode"` // debug, release
	LogLevel string `mapstructure:"logLevel"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres, mysql, sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

type GameConfig struct {
	DayStartHour     int `mapstructure:"dayStartHour"`
	SnapshotInterval int `mapstructure:"snapshotInterval"` // seconds
	StaggerSeconds   int `mapstructure:"staggerSeconds"`
	RevealDelayMs    int `mapstructure:"revealDelayMs"`
	RoadmapSize      int `mapstructure:"roadmapSize"`
}

type ReportConfig struct {
	RebatePct         float64 `mapstructure:"rebatePct"`
	IncludeCommission bool    `mapstructure:"includeCommission"`
	MaxAgentDepth     int     `mapstructure:"maxAgentDepth"`
}

type BetLimit struct {
	Min int64 `mapstructure:"min"`
	Max int64 `mapstructure:"max"`
}

type TableConfig struct {
	ID            int64               `mapstructure:"id"`
	Name          string              `mapstructure:"name"`
	Variant       string              `mapstructure:"variant"` // point, duel, rank
	Decks         int                 `mapstructure:"decks"`
	BettingSecs   int                 `mapstructure:"bettingSecs"`
	SealedSecs    int                 `mapstructure:"sealedSecs"`
	DealingSecs   int                 `mapstructure:"dealingSecs"`
	ResultSecs    int                 `mapstructure:"resultSecs"`
	CommissionPct float64             `mapstructure:"commissionPct"`
	Limits        map[string]BetLimit `mapstructure:"limits"`
}

func (t TableConfig) Betting() time.Duration { return time.Duration(t.BettingSecs) * time.Second }
func (t TableConfig) Sealed() time.Duration  { return time.Duration(t.SealedSecs) * time.Second }
func (t TableConfig) Dealing() time.Duration { return time.Duration(t.DealingSecs) * time.Second }
func (t TableConfig) Result() time.Duration  { return time.Duration(t.ResultSecs) * time.Second }

var GlobalConfig *Config

func LoadConfig(path string) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	if len(cfg.Tables) == 0 {
		cfg.Tables = DefaultTables()
	}
	for i := range cfg.Tables {
		cfg.Tables[i] = cfg.Tables[i].withDefaults()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config, %v", err)
	}
	GlobalConfig = &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.logLevel", "info")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("redis.prefix", "table")
	v.SetDefault("jwt.expire", 24)
	v.SetDefault("game.dayStartHour", 12)
	v.SetDefault("game.snapshotInterval", 30)
	v.SetDefault("game.staggerSeconds", 3)
	v.SetDefault("game.revealDelayMs", 800)
	v.SetDefault("game.roadmapSize", 72)
	v.SetDefault("report.maxAgentDepth", 16)
}

// DefaultTables provisions one table of each variant.
func DefaultTables() []TableConfig {
	return []TableConfig{
		{ID: 1, Name: "Point 01", Variant: "point", Decks: 8, CommissionPct: 5},
		{ID: 2, Name: "Duel 01", Variant: "duel", Decks: 8},
		{ID: 3, Name: "Rank 01", Variant: "rank", Decks: 1, CommissionPct: 5},
	}
}

func (t TableConfig) withDefaults() TableConfig {
	if t.Decks <= 0 {
		t.Decks = 8
	}
	if t.BettingSecs <= 0 {
		t.BettingSecs = 20
	}
	if t.SealedSecs <= 0 {
		t.SealedSecs = 3
	}
	if t.DealingSecs <= 0 {
		t.DealingSecs = 8
	}
	if t.ResultSecs <= 0 {
		t.ResultSecs = 5
	}
	if t.Name == "" {
		t.Name = fmt.Sprintf("%s %02d", t.Variant, t.ID)
	}
	return t
}

func (c *Config) Validate() error {
	seen := make(map[int64]struct{}, len(c.Tables))
	for _, t := range c.Tables {
		if t.ID <= 0 {
			return fmt.Errorf("table id must be positive, got %d", t.ID)
		}
		if _, ok := seen[t.ID]; ok {
			return fmt.Errorf("duplicate table id %d", t.ID)
		}
		seen[t.ID] = struct{}{}
		switch t.Variant {
		case "point", "duel", "rank":
		default:
			return fmt.Errorf("table %d: unknown variant %q", t.ID, t.Variant)
		}
		for betType, limit := range t.Limits {
			if limit.Min < 0 || (limit.Max > 0 && limit.Max < limit.Min) {
				return fmt.Errorf("table %d: invalid limit for %s", t.ID, betType)
			}
		}
	}
	if c.Game.DayStartHour < 0 || c.Game.DayStartHour > 23 {
		return fmt.Errorf("game.dayStartHour must be in [0,23]")
	}
	return nil
}
