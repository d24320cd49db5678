package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kbchat/backend/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			ReadTimeout:  5,
			WriteTimeout: 5,
			BodyLimit:    1 << 20,
			Development:  true,
		},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 100},
	}
}

func TestHealthAndMetricsBypassRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerMinute = 1
	s := NewServer("test", cfg, nil)
	defer s.Close()

	for i := 0; i < 3; i++ {
		resp, err := s.App().Test(httptest.NewRequest("GET", "/api/v1/health", nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != 200 {
			t.Fatalf("health request %d = %d", i+1, resp.StatusCode)
		}
	}

	resp, err := s.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "kbchat_query_total") {
		t.Errorf("metrics output missing kbchat collectors")
	}
}

func TestReady(t *testing.T) {
	var readyErr error
	s := NewServer("test", testConfig(), func(ctx context.Context) error {
		return readyErr
	})
	defer s.Close()

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/v1/ready", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("ready status = %d", resp.StatusCode)
	}

	readyErr = errors.New("no index published")
	resp, err = s.App().Test(httptest.NewRequest("GET", "/api/v1/ready", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 503 {
		t.Fatalf("not-ready status = %d", resp.StatusCode)
	}

	var got map[string]string
	json.NewDecoder(resp.Body).Decode(&got)
	if got["error"] != "no index published" {
		t.Errorf("error = %q", got["error"])
	}
}

func TestCloseRunsInReverse(t *testing.T) {
	s := NewServer("test", testConfig(), nil)

	var order []string
	s.OnClose(func() error { order = append(order, "first"); return nil })
	s.OnClose(func() error { order = append(order, "second"); return errors.New("ignored") })
	s.Close()

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("close order = %v", order)
	}
}
