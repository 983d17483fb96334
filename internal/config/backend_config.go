package config

import "strings"

const (
	supabaseURLVar = "SUPABASE_URL"
	supabaseKeyVar = "SUPABASE_ANON_KEY"
	realtimeURLVar = "REALTIME_URL"
)

// placeholderValues are the sentinel values a freshly scaffolded install ships
// with. Initialization must short-circuit to a safe unauthenticated state when
// one of these is still in place, without attempting any network call.
var placeholderValues = []string{
	"",
	"YOUR_SUPABASE_URL",
	"YOUR_SUPABASE_ANON_KEY",
	"https://your-project.supabase.co",
}

type Backend struct{}

var _ BackendConfig = Backend{}

func (Backend) GetSupabaseURL() string {
	return GetEnv(supabaseURLVar, "")
}

func (Backend) GetSupabaseAnonKey() string {
	return GetEnv(supabaseKeyVar, "")
}

// GetRealtimeURL returns the websocket endpoint for realtime subscriptions.
// Defaults to the supabase URL with the realtime path when not set explicitly.
func (b Backend) GetRealtimeURL() string {
	if url := GetEnv(realtimeURLVar, ""); url != "" {
		return url
	}
	base := b.GetSupabaseURL()
	if base == "" {
		return ""
	}
	wsBase := strings.Replace(base, "https://", "wss://", 1)
	wsBase = strings.Replace(wsBase, "http://", "ws://", 1)
	return wsBase + "/realtime/v1/websocket"
}

func (b Backend) IsConfigured() bool {
	return !IsPlaceholder(b.GetSupabaseURL()) && !IsPlaceholder(b.GetSupabaseAnonKey())
}

// IsPlaceholder reports whether a configuration value is one of the known
// unconfigured/demo sentinels.
func IsPlaceholder(value string) bool {
	trimmed := strings.TrimSpace(value)
	for _, p := range placeholderValues {
		if strings.EqualFold(trimmed, p) {
			return true
		}
	}
	return false
}
