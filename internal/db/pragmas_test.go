package db

import (
	"path/filepath"
	"testing"
)

// TestPragmasApplied verifies that essential PRAGMAs are set on open.
func TestPragmasApplied(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test_pragmas.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	tests := []struct {
		pragma string
		want   int
	}{
		{"busy_timeout", 5000},
		{"synchronous", 1}, // NORMAL
		{"temp_store", 2},  // MEMORY
		{"foreign_keys", 1},
	}
	for _, tt := range tests {
		var got int
		if err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Fatalf("Failed to query %s: %v", tt.pragma, err)
		}
		if got != tt.want {
			t.Errorf("Expected %s=%d, got %d", tt.pragma, tt.want, got)
		}
	}
}
