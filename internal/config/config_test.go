package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ZendeskFieldKey != "aktenzeichen" {
		t.Errorf("ZendeskFieldKey = %q, want aktenzeichen", cfg.ZendeskFieldKey)
	}
	if cfg.CachePath != ".tracker/cache.db" {
		t.Errorf("CachePath = %q", cfg.CachePath)
	}
	if cfg.ListenPort != 8484 {
		t.Errorf("ListenPort = %d, want 8484", cfg.ListenPort)
	}
	if cfg.DefaultRows != 20 {
		t.Errorf("DefaultRows = %d, want 20", cfg.DefaultRows)
	}
	if cfg.DebounceInterval != 500*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 500ms", cfg.DebounceInterval)
	}
	if cfg.LookupDelay != 300*time.Millisecond {
		t.Errorf("LookupDelay = %v, want 300ms", cfg.LookupDelay)
	}
	if cfg.TicketDelay != 500*time.Millisecond {
		t.Errorf("TicketDelay = %v, want 500ms", cfg.TicketDelay)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon123")
	t.Setenv("ZENDESK_SUBDOMAIN", "kanzlei")
	t.Setenv("ZENDESK_EMAIL", "agent@example.com")
	t.Setenv("ZENDESK_API_TOKEN", "tok")
	t.Setenv("TRACKER_LISTEN_PORT", "9090")
	t.Setenv("TRACKER_DEBOUNCE_MS", "250")

	cfg := Load()

	if cfg.SupabaseURL != "https://proj.supabase.co" {
		t.Errorf("SupabaseURL = %q", cfg.SupabaseURL)
	}
	if cfg.ListenPort != 9090 {
		t.Errorf("ListenPort = %d, want 9090", cfg.ListenPort)
	}
	if cfg.DebounceInterval != 250*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 250ms", cfg.DebounceInterval)
	}
	if !cfg.RemoteConfigured() {
		t.Error("RemoteConfigured() = false with url and key set")
	}
	if !cfg.LookupConfigured() {
		t.Error("LookupConfigured() = false with full credentials set")
	}
}

func TestConfiguredPredicates(t *testing.T) {
	var cfg Config
	if cfg.RemoteConfigured() {
		t.Error("empty config reports remote configured")
	}
	if cfg.LookupConfigured() {
		t.Error("empty config reports lookup configured")
	}

	cfg.SupabaseURL = "https://proj.supabase.co"
	if cfg.RemoteConfigured() {
		t.Error("url without key reports remote configured")
	}

	cfg.ZendeskSubdomain = "kanzlei"
	cfg.ZendeskEmail = "agent@example.com"
	if cfg.LookupConfigured() {
		t.Error("credentials without token report lookup configured")
	}
}
