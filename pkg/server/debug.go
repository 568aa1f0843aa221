package server

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/revivarr/revivarr/internal/request"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snapshot := s.engine.Snapshot()
	stats := map[string]any{
		// Process
		"heap_mb":    fmt.Sprintf("%.1f", float64(mem.HeapAlloc)/(1<<20)),
		"sys_mb":     fmt.Sprintf("%.1f", float64(mem.Sys)/(1<<20)),
		"gc_cycles":  mem.NumGC,
		"goroutines": runtime.NumGoroutine(),
		"go_version": runtime.Version(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,

		// Engine
		"uptime":      snapshot.Uptime,
		"trackers":    snapshot.Trackers,
		"downloads":   len(snapshot.Downloads),
		"processed":   snapshot.Processed,
		"slots_used":  snapshot.SlotsUsed,
		"slots_total": snapshot.SlotsTotal,
	}

	request.JSONResponse(w, stats, http.StatusOK)
}
