package version

import "testing"

func TestString(t *testing.T) {
	defer func(v, sha, bt string) { Version, GitSHA, BuildTime = v, sha, bt }(Version, GitSHA, BuildTime)
	Version, GitSHA, BuildTime = "1.2.0", "abc123", "2026-10-01"
	if got, want := String(), "1.2.0 (abc123, built 2026-10-01)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
