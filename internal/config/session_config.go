package config

import "time"

const (
	inactivityTimeoutVar = "SESSION_INACTIVITY_TIMEOUT"
	startupWatchdogVar   = "STARTUP_WATCHDOG"
)

type SessionSettings struct{}

var _ SessionConfig = SessionSettings{}

// GetInactivityTimeout returns how long a session may sit idle before it is
// force-cleared. Defaults to 24 hours.
func (SessionSettings) GetInactivityTimeout() time.Duration {
	return getDuration(inactivityTimeoutVar, 24*time.Hour)
}

// GetStartupWatchdog returns the bound on how long startup initialization may
// run before the facade force-resolves to an unauthenticated state.
func (SessionSettings) GetStartupWatchdog() time.Duration {
	return getDuration(startupWatchdogVar, 15*time.Second)
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := GetEnv(envVar, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
