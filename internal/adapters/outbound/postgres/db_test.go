package postgres

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestOpenJournal_ConfigErrors(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		errContains string
	}{
		{name: "empty url", url: "", errContains: "database URL is required"},
		{name: "invalid port", url: "postgres://user@localhost:notaport/journal", errContains: "parsing database URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			journal, err := OpenJournal(context.Background(), JournalConfigDefaults(tt.url), nil)
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
			}
			if journal != nil {
				t.Error("expected no journal on error")
			}
		})
	}
}

func TestJournalConfigDefaults(t *testing.T) {
	cfg := JournalConfigDefaults("postgres://localhost/journal")
	if cfg.URL != "postgres://localhost/journal" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.MaxConns != 4 {
		t.Errorf("MaxConns = %d, want 4", cfg.MaxConns)
	}
	if cfg.ConnLifetime != 5*time.Minute {
		t.Errorf("ConnLifetime = %s, want 5m", cfg.ConnLifetime)
	}
	if cfg.Migrations != nil {
		t.Error("default config should use the embedded migrations")
	}
}
