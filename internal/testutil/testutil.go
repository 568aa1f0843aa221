package testutil

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/revivarr/revivarr/internal/config"
)

// UseTempData points the process data path at a per-test temp directory so
// state files and logs never land in the working tree.
func UseTempData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	config.SetDataPath(dir)
	config.Reload()
	t.Cleanup(config.Reload)
	return dir
}

// WriteJSON encodes v as the handler response for mock servers.
func WriteJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("Failed to encode response: %v", err)
	}
}
