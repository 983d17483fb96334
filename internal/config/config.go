package config

import "time"

type Config interface {
	EnvConfig
	BackendConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetMetricsPort() string
	GetDataFolder() string
}

type BackendConfig interface {
	GetSupabaseURL() string
	GetSupabaseAnonKey() string
	GetRealtimeURL() string
	IsConfigured() bool
}

type SessionConfig interface {
	GetInactivityTimeout() time.Duration
	GetStartupWatchdog() time.Duration
}

type mainConfig struct {
	EnvVars
	Backend
	SessionSettings
}

func New() Config {
	return mainConfig{}
}
