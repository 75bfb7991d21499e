package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/nutrirag/internal/config"
	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/resultcache"
	"github.com/hyperjump/nutrirag/internal/server"
	"github.com/hyperjump/nutrirag/internal/vector"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"high protein breakfast", "-top-k", "3"},
			expected: []string{"-top-k", "3", "high protein breakfast"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top-k", "3", "high protein breakfast"},
			expected: []string{"-top-k", "3", "high protein breakfast"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"high protein breakfast"},
			expected: []string{"high protein breakfast"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"oats", "berries", "-output", "json"},
			expected: []string{"-output", "json", "oats", "berries"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"fiber"}, "fiber"},
		{"multiple words", []string{"low", "sodium"}, "low sodium"},
		{"single quoted phrase", []string{"low sodium"}, "low sodium"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuery(tt.args); got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestFilterFlag(t *testing.T) {
	f := filterFlag{}
	for _, v := range []string{"item_type=nutrition_document", "chunk_index=2", "verified=true", " category = snack "} {
		if err := f.Set(v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}
	want := filterFlag{
		"item_type":   "nutrition_document",
		"chunk_index": float64(2),
		"verified":    true,
		"category":    "snack",
	}
	if !reflect.DeepEqual(f, want) {
		t.Errorf("filter = %v, want %v", f, want)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if err := f.Set(bad); err == nil {
			t.Errorf("Set(%q) should fail", bad)
		}
	}
}

func TestIsURL(t *testing.T) {
	if !isURL("https://example.com/a.pdf") || !isURL("http://x") {
		t.Error("http(s) links should be URLs")
	}
	if isURL("./guides/a.pdf") || isURL("sources.xlsx") {
		t.Error("paths are not URLs")
	}
}

func TestReadProfile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "profile.json")
	p := models.UserProfile{Age: 30, Gender: "female", HeightCM: 165, WeightKG: 60, ActivityLevel: "light", WeightGoal: "maintain"}
	data, _ := json.Marshal(p)
	if err := os.WriteFile(good, data, 0600); err != nil {
		t.Fatal(err)
	}
	got, err := readProfile(good)
	if err != nil {
		t.Fatal(err)
	}
	if got.Age != 30 || got.Gender != "female" {
		t.Errorf("profile = %+v", got)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"age": 500}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := readProfile(bad); err == nil {
		t.Error("invalid profile should fail validation")
	}
	if _, err := readProfile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvOpenAIKey, "")
	t.Setenv(config.EnvAppEnv, "")
	t.Setenv(config.EnvRedisURL, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
embedding:
  provider: mock
index:
  dimensions: 16
cache:
  dir: "./cache"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.Dir != filepath.Join(dir, "cache") {
		t.Errorf("cache dir = %s", cfg.Cache.Dir)
	}

	if _, err := loadConfig(path, true); err == nil {
		t.Error("recommendations without an API key should fail validation")
	}
	if _, err := loadConfig(filepath.Join(dir, "missing.yaml"), false); err == nil {
		t.Error("a missing non-default config should fail")
	}
}

func TestInitializeComponents_LocalFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.Provider = config.ProviderMock
	cfg.Index.Dimensions = 8
	cfg.Cache.Dir = t.TempDir()
	cfg.Cache.ResultBackend = "file"

	c, err := initializeComponents(context.Background(), cfg, zap.NewNop(), initOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Engine.Mode() != vector.ModeLocal {
		t.Errorf("mode = %s, want local without redis", c.Engine.Mode())
	}

	path := filepath.Join(t.TempDir(), "tips.txt")
	if err := os.WriteFile(path, []byte("Drink water before meals."), 0600); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	res, err := c.Ingester.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 {
		t.Errorf("chunks = %d, want 1", res.Chunks)
	}
	matches, err := c.Engine.GetRetrievals(ctx, "Drink water before meals.", 1, map[string]interface{}{"item_type": "nutrition_document"})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Content() != "Drink water before meals." {
		t.Errorf("matches = %+v", matches)
	}
}

func TestClearResultCache(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Dir = t.TempDir()
	cfg.Cache.ResultBackend = "file"
	ctx := context.Background()

	path := filepath.Join(cfg.Cache.Dir, resultcache.FileName)
	fc := resultcache.NewFileCache(path, zap.NewNop())
	if err := fc.Store(ctx, "k", []models.Match{{ID: "a", Score: 0.9}}); err != nil {
		t.Fatal(err)
	}
	if err := fc.Close(); err != nil {
		t.Fatal(err)
	}

	if err := clearResultCache(ctx, cfg, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	reloaded := resultcache.NewFileCache(path, zap.NewNop())
	defer reloaded.Close()
	n, err := reloaded.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("entries after clear = %d, want 0", n)
	}
}

func TestDecodeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"index":{"index_name":"recommendation-index","items":3}}`))
	}))
	defer srv.Close()

	var status server.StatusResponse
	if err := getJSON(srv.URL+"/api/v1/status", &status); err != nil {
		t.Fatal(err)
	}
	if status.Index.IndexName != "recommendation-index" || status.Index.Items != 3 {
		t.Errorf("status = %+v", status)
	}
	if err := getJSON(srv.URL+"/fail", &status); err == nil {
		t.Error("non-200 should fail")
	}
}
