package security

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestHeadersMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		cfg      HeadersConfig
		wantHSTS bool
	}{
		{name: "production", cfg: HeadersConfig{AllowedOrigins: []string{"https://kb.example.com"}}, wantHSTS: true},
		{name: "development", cfg: HeadersConfig{IsDevelopment: true}, wantHSTS: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(HeadersMiddleware(tt.cfg))
			app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatal(err)
			}

			if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
				t.Errorf("X-Frame-Options = %q", got)
			}
			if hsts := resp.Header.Get("Strict-Transport-Security") != ""; hsts != tt.wantHSTS {
				t.Errorf("HSTS set = %v, want %v", hsts, tt.wantHSTS)
			}

			csp := resp.Header.Get("Content-Security-Policy")
			if !strings.Contains(csp, "connect-src 'self' ws: wss:") {
				t.Errorf("CSP does not allow websockets: %s", csp)
			}
			for _, origin := range tt.cfg.AllowedOrigins {
				if !strings.Contains(csp, origin) {
					t.Errorf("CSP missing origin %s: %s", origin, csp)
				}
			}
		})
	}
}
