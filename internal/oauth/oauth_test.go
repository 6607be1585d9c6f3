package oauth

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	tokensDir := filepath.Join(t.TempDir(), "tokens")
	if err := os.MkdirAll(tokensDir, 0700); err != nil {
		t.Fatal(err)
	}
	return &Manager{
		config:    &oauth2.Config{Scopes: Scopes},
		tokensDir: tokensDir,
		logger:    slog.Default(),
	}
}

var testToken = oauth2.Token{AccessToken: "test", TokenType: "Bearer"}

func TestTokenRoundTrip(t *testing.T) {
	mgr := setupTestManager(t)

	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
	}

	if err := mgr.saveToken("test@gmail.com", token); err != nil {
		t.Fatal(err)
	}

	loaded, err := mgr.loadToken("test@gmail.com")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" {
		t.Errorf("loaded token = %+v, want saved values", loaded)
	}
}

func TestHasToken(t *testing.T) {
	mgr := setupTestManager(t)

	if mgr.HasToken("test@gmail.com") {
		t.Error("HasToken() = true before any token saved")
	}

	if err := mgr.saveToken("test@gmail.com", &testToken); err != nil {
		t.Fatal(err)
	}
	if !mgr.HasToken("test@gmail.com") {
		t.Error("HasToken() = false after saveToken")
	}
}

func TestDeleteToken(t *testing.T) {
	mgr := setupTestManager(t)

	if err := mgr.saveToken("test@gmail.com", &testToken); err != nil {
		t.Fatal(err)
	}
	if err := mgr.DeleteToken("test@gmail.com"); err != nil {
		t.Fatalf("DeleteToken() = %v", err)
	}
	if mgr.HasToken("test@gmail.com") {
		t.Error("token still present after DeleteToken()")
	}

	// Deleting a missing token is not an error
	if err := mgr.DeleteToken("missing@gmail.com"); err != nil {
		t.Errorf("DeleteToken(missing) = %v, want nil", err)
	}
}

func TestLoadTokenCorruptFile(t *testing.T) {
	mgr := setupTestManager(t)

	if err := os.WriteFile(filepath.Join(mgr.tokensDir, "corrupt@gmail.com.json"), []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.loadToken("corrupt@gmail.com"); err == nil {
		t.Error("loadToken() = nil error for corrupt file")
	}
}

func TestTokenPathSanitized(t *testing.T) {
	mgr := setupTestManager(t)

	tests := []struct {
		name  string
		email string
	}{
		{"PathTraversal", "../../etc/passwd"},
		{"Slashes", "a/b/c@gmail.com"},
		{"Backslashes", `a\b@gmail.com`},
	}

	cleanDir := filepath.Clean(mgr.tokensDir)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := mgr.tokenPath(tt.email)
			if !strings.HasPrefix(path, cleanDir) {
				t.Errorf("tokenPath(%q) = %q, escapes tokens dir", tt.email, path)
			}
		})
	}
}

func TestSavedTokenFilePermissions(t *testing.T) {
	mgr := setupTestManager(t)

	if err := mgr.saveToken("test@gmail.com", &testToken); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(mgr.TokenPath("test@gmail.com"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token file mode = %o, want 0600", perm)
	}

	// File must be plain token JSON so external tools can inspect it
	data, err := os.ReadFile(mgr.TokenPath("test@gmail.com"))
	if err != nil {
		t.Fatal(err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		t.Fatalf("token file is not valid JSON: %v", err)
	}
	if token.AccessToken != "test" {
		t.Errorf("AccessToken = %q, want test", token.AccessToken)
	}
}
