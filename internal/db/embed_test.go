package db

import (
	"io/fs"
	"strings"
	"testing"
)

// TestEmbeddedMigrationsFS verifies the embedded migrations are paired
// up/down files.
func TestEmbeddedMigrationsFS(t *testing.T) {
	origDevMode := DevMode
	DevMode = false
	defer func() { DevMode = origDevMode }()

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		t.Fatalf("Failed to read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migrations")
	}

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		default:
			t.Errorf("unexpected file %s", e.Name())
		}
	}
	if ups != downs {
		t.Errorf("%d up migrations but %d down migrations", ups, downs)
	}
}
