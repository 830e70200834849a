package store

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

func TestNilStoreIsNoOp(t *testing.T) {
	var s *Store

	if err := s.SaveTranscript(t.Context(), "sess", "user", "你好"); err != nil {
		t.Errorf("SaveTranscript on nil store: %v", err)
	}
	if err := s.SaveUsage(t.Context(), "sess", types.Usage{InputTokens: 10}); err != nil {
		t.Errorf("SaveUsage on nil store: %v", err)
	}

	transcripts, err := s.RecentTranscripts(t.Context(), "sess", 10)
	if err != nil {
		t.Errorf("RecentTranscripts on nil store: %v", err)
	}
	if transcripts != nil {
		t.Errorf("RecentTranscripts on nil store = %v, want nil", transcripts)
	}

	s.Close()
}

func TestNewRejectsBadDSN(t *testing.T) {
	if _, err := New(t.Context(), "not a dsn"); err == nil {
		t.Fatal("New accepted a malformed DSN")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	want := map[string]bool{
		"00001_create_transcripts.sql":   false,
		"00002_create_session_usage.sql": false,
	}
	for _, entry := range entries {
		if _, ok := want[entry.Name()]; ok {
			want[entry.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("migration %s not embedded", name)
		}
	}

	// Goose skips files without its annotations, which would leave the
	// schema silently missing.
	for name := range want {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(data), "-- +goose Up") {
			t.Errorf("%s missing goose up annotation", name)
		}
		if !strings.Contains(string(data), "-- +goose Down") {
			t.Errorf("%s missing goose down annotation", name)
		}
	}
}
