package main

import (
	"cmp"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// HealthStatus represents the status of the daemon's components
type HealthStatus struct {
	StatusAPI     bool `json:"status_api"`
	Engine        bool `json:"engine"`
	OverallStatus bool `json:"overall_status"`
}

func main() {
	var (
		addr  string
		debug bool
	)
	flag.StringVar(&addr, "addr", "", "status server address, host:port or :port")
	flag.BoolVar(&debug, "debug", false, "enable debug mode for detailed output")
	flag.Parse()

	addr = cmp.Or(addr, os.Getenv("STATUS_ADDR"), ":8585")
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	status := HealthStatus{}

	// Create a context with timeout for all HTTP requests
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status.StatusAPI = checkHealthz(ctx, addr)
	status.Engine = checkEngineStatus(ctx, addr)
	status.OverallStatus = status.StatusAPI && status.Engine

	if debug {
		statusJSON, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(statusJSON))
	}

	if status.OverallStatus {
		os.Exit(0)
	}
	os.Exit(1)
}

func checkHealthz(ctx context.Context, addr string) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("http://%s/healthz", addr), nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func checkEngineStatus(ctx context.Context, addr string) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("http://%s/api/status", addr), nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var snapshot struct {
		SlotsTotal int `json:"slots_total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return false
	}
	return snapshot.SlotsTotal > 0
}
