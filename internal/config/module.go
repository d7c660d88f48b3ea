package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Storage   StorageConfig   `yaml:"storage"`
	Planner   PlannerConfig   `yaml:"planner"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type GRPCConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the persistence backend. An empty DSN runs the
// in-memory stores.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

type PlannerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// SchedulerConfig drives the scheduled-workflow ticker.
type SchedulerConfig struct {
	IntervalSeconds int      `yaml:"interval_seconds"`
	Tenants         []string `yaml:"tenants"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8100,
		},
		GRPC: GRPCConfig{
			Host: "0.0.0.0",
			Port: 9114,
		},
		Planner: PlannerConfig{
			Endpoint: "http://planner-service:8120",
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 60,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("APP_SERVER_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_SERVER_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_GRPC_HOST")); v != "" {
		cfg.GRPC.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_GRPC_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.GRPC.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_STORAGE_DSN")); v != "" {
		cfg.Storage.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_PLANNER_ENDPOINT")); v != "" {
		cfg.Planner.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_SCHEDULER_INTERVAL_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.IntervalSeconds = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_SCHEDULER_TENANTS")); v != "" {
		cfg.Scheduler.Tenants = strings.Split(v, ",")
	}

	return cfg, nil
}

func Module(path string) fx.Option {
	return fx.Provide(func() (Config, error) {
		return Load(path)
	})
}
