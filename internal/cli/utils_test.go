package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/retrieval"
	"github.com/hyperjump/nutrirag/internal/storage"
)

func sampleResponse() *models.RetrievalResponse {
	return &models.RetrievalResponse{
		Query:     "high fiber breakfast",
		TopK:      2,
		QueryTime: 42,
		Cached:    true,
		Matches: []models.Match{
			{ID: "item-1", Score: 0.91, Metadata: models.Metadata{
				models.MetaContent:  "Oats are a great source of soluble fiber.",
				models.MetaItemType: "nutrition_document",
				"source":            "/inbox/fiber.pdf",
			}},
			{ID: "item-2", Score: 0.5, Metadata: models.Metadata{models.MetaContent: strings.Repeat("x", 300)}},
		},
	}
}

func TestWriteRetrievals_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrievals(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteRetrievals(json): %v", err)
	}
	var decoded models.RetrievalResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "high fiber breakfast" || decoded.QueryTime != 42 || !decoded.Cached {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.Matches) != 2 || decoded.Matches[0].ID != "item-1" {
		t.Errorf("decoded matches = %+v", decoded.Matches)
	}
}

func TestWriteRetrievals_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrievals(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Found 2 matches in 42ms (cached)",
		"Rank: 1 | Score: 0.9100",
		"ID: item-1",
		"Type: nutrition_document",
		"Source: /inbox/fiber.pdf",
		"Oats are a great source of soluble fiber.",
		strings.Repeat("x", 200) + "...",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, strings.Repeat("x", 201)) {
		t.Error("long content should be truncated")
	}
}

func TestWriteStatus(t *testing.T) {
	stats := &retrieval.Stats{IndexName: "recommendation-index", Mode: "local", Dimensions: 1536, Items: 12, ResultCacheEntries: 3}
	usage := &storage.Usage{TotalBytes: 30, Entries: map[string]int64{"sources.db": 10, "local_index": 20}}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, stats, usage, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"items:                    12", "disk_usage_bytes:         30", "local_index:"} {
		if !strings.Contains(out, want) {
			t.Errorf("text status missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "local_index:") > strings.Index(out, "sources.db:") {
		t.Errorf("entries should be sorted:\n%s", out)
	}

	buf.Reset()
	if err := WriteStatus(&buf, stats, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Index     retrieval.Stats `json:"index"`
		DiskUsage *storage.Usage  `json:"disk_usage"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Index != *stats {
		t.Errorf("decoded = %+v, want %+v", decoded.Index, *stats)
	}
	if decoded.DiskUsage != nil {
		t.Error("disk_usage should be omitted when unknown")
	}
}

func TestWriteRecommendation_TextGroupsByMealType(t *testing.T) {
	rec := &models.Recommendation{Meals: []models.RecommendedMeal{
		{MealName: "Salmon bowl", MealType: models.MealDinner, Ingredients: []string{"salmon", "rice"}},
		{MealName: "Berry oats", MealType: models.MealBreakfast, PrepTimeMinutes: 5,
			PreparationSteps: []string{"soak oats", "add berries"}, GoalSupport: "fiber keeps you full"},
	}}
	var buf bytes.Buffer
	if err := WriteRecommendation(&buf, rec, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	breakfast := strings.Index(out, "== BREAKFAST ==")
	dinner := strings.Index(out, "== DINNER ==")
	if breakfast < 0 || dinner < 0 || breakfast > dinner {
		t.Errorf("meal types out of order:\n%s", out)
	}
	for _, want := range []string{"Berry oats (5 min)", "  2. add berries", "Ingredients: salmon, rice", "Why: fiber keeps you full"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteRecommendation(&buf, &models.Recommendation{}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No meals recommended.") {
		t.Errorf("empty output: %q", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"compact", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}
