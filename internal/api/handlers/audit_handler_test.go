package handlers

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/kbchat/backend/internal/storage/models"
)

type fakeAudit struct {
	files     map[string][]models.IngestionFile
	queries   []models.QueryRecord
	sources   map[string][]models.QuerySource
	err       error
	lastLimit int
}

func (f *fakeAudit) GetRunFiles(runID string) ([]models.IngestionFile, error) {
	return f.files[runID], f.err
}

func (f *fakeAudit) GetRecentQueries(limit int) ([]models.QueryRecord, error) {
	f.lastLimit = limit
	return f.queries, f.err
}

func (f *fakeAudit) GetQuerySources(queryID string) ([]models.QuerySource, error) {
	return f.sources[queryID], f.err
}

func newAuditApp(audit AuditReader) *fiber.App {
	h := NewAuditHandler(audit)
	app := fiber.New()
	app.Get("/api/v1/runs/:id/files", h.GetRunFiles)
	app.Get("/api/v1/queries", h.ListQueries)
	app.Get("/api/v1/queries/:id/sources", h.GetQuerySources)
	return app
}

func TestAuditHandler(t *testing.T) {
	audit := &fakeAudit{
		files: map[string][]models.IngestionFile{
			"run-1": {{RunID: "run-1", Name: "a.pdf", Outcome: models.FileLoaded, Pages: 2}},
		},
		queries: []models.QueryRecord{{ID: "q-1", QueryText: "what?", Status: "success"}},
		sources: map[string][]models.QuerySource{
			"q-1": {{QueryID: "q-1", ChunkID: "c1", Source: "a.pdf", Page: 1}},
		},
	}
	app := newAuditApp(audit)

	tests := []struct {
		name      string
		path      string
		key       string
		wantCount int
	}{
		{name: "run files", path: "/api/v1/runs/run-1/files", key: "files", wantCount: 1},
		{name: "unknown run", path: "/api/v1/runs/nope/files", key: "files", wantCount: 0},
		{name: "queries", path: "/api/v1/queries", key: "queries", wantCount: 1},
		{name: "query sources", path: "/api/v1/queries/q-1/sources", key: "sources", wantCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != 200 {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}

			var body map[string]json.RawMessage
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			var items []map[string]interface{}
			if err := json.Unmarshal(body[tt.key], &items); err != nil {
				t.Fatalf("%s is not a list: %s", tt.key, body[tt.key])
			}
			if len(items) != tt.wantCount {
				t.Errorf("len(%s) = %d, want %d", tt.key, len(items), tt.wantCount)
			}
		})
	}
}

func TestListQueriesLimit(t *testing.T) {
	audit := &fakeAudit{}
	app := newAuditApp(audit)

	for query, want := range map[string]int{"": 50, "?limit=5": 5, "?limit=0": 50, "?limit=9999": 50} {
		if _, err := app.Test(httptest.NewRequest("GET", "/api/v1/queries"+query, nil)); err != nil {
			t.Fatal(err)
		}
		if audit.lastLimit != want {
			t.Errorf("limit for %q = %d, want %d", query, audit.lastLimit, want)
		}
	}
}

func TestAuditHandlerError(t *testing.T) {
	app := newAuditApp(&fakeAudit{err: errors.New("db closed")})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/queries", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 500 {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}
