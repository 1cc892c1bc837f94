package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/groundpass/internal/config"
	"github.com/signalsfoundry/groundpass/internal/logging"
	"github.com/signalsfoundry/groundpass/model"
)

func TestScheduleServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "missing.json")
	cfg.Stations = []model.GroundStation{
		{Code: "SVB", Name: "Svalbard", Location: model.GroundLocation{LatDeg: 78.23, LonDeg: 15.39}},
	}
	log := logging.New(logging.Config{Level: "warn", Format: "text", Output: io.Discard})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, &cfg, log, lis, prometheus.NewRegistry(), io.Discard)
	}()

	url := "http://" + lis.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", resp.StatusCode)
	}
	var health struct {
		Status   string `json:"status"`
		Stations int    `json:"stations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode /healthz: %v", err)
	}
	if health.Status != "ok" || health.Stations != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}

	metrics, err := http.Get("http://" + lis.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	metrics.Body.Close()
	if metrics.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", metrics.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
