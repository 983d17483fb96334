package config

import (
	"fmt"
	"os"
)

const (
	appNameVar     = "APP_NAME"
	metricsPortVar = "METRICS_PORT"
	folderEnvVar   = "FOLDER"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Farm2Go")
}

func (EnvVars) GetMetricsPort() string {
	port := GetEnv(metricsPortVar, "9090")
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
