// Package cli provides output helpers for the nutrirag command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/retrieval"
	"github.com/hyperjump/nutrirag/internal/storage"
	"github.com/hyperjump/nutrirag/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(OutputText):
		return OutputText, nil
	case string(OutputJSON):
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrievals writes a retrieval response in the given format.
func WriteRetrievals(w io.Writer, response *models.RetrievalResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	cached := ""
	if response.Cached {
		cached = " (cached)"
	}
	fmt.Fprintf(w, "\nFound %d matches in %dms%s\n\n", len(response.Matches), response.QueryTime, cached)
	for i, m := range response.Matches {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, m.Score)
		fmt.Fprintf(w, "ID: %s\n", m.ID)
		if t := m.Metadata.String(models.MetaItemType); t != "" {
			fmt.Fprintf(w, "Type: %s\n", t)
		}
		if src := m.Metadata.String("source"); src != "" {
			fmt.Fprintf(w, "Source: %s\n", src)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(m.Content(), 200))
	}
	return nil
}

// WriteStatus writes engine statistics and, when known, cache disk usage.
func WriteStatus(w io.Writer, stats *retrieval.Stats, usage *storage.Usage, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, struct {
			Index     *retrieval.Stats `json:"index"`
			DiskUsage *storage.Usage   `json:"disk_usage,omitempty"`
		}{stats, usage})
	}
	fmt.Fprintf(w, "index_name:               %s\n", stats.IndexName)
	fmt.Fprintf(w, "mode:                     %s   # remote or local similarity index\n", stats.Mode)
	fmt.Fprintf(w, "dimensions:               %d\n", stats.Dimensions)
	fmt.Fprintf(w, "items:                    %d   # count of indexed items\n", stats.Items)
	fmt.Fprintf(w, "embedding_cache_entries:  %d\n", stats.EmbeddingCacheEntries)
	fmt.Fprintf(w, "result_cache_entries:     %d\n", stats.ResultCacheEntries)
	if usage != nil {
		fmt.Fprintf(w, "disk_usage_bytes:         %d   # cache directory\n", usage.TotalBytes)
		names := make([]string, 0, len(usage.Entries))
		for name := range usage.Entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-24s%d\n", name+":", usage.Entries[name])
		}
	}
	return nil
}

// WriteRecommendation writes meal recommendations in the given format. Text output
// groups meals by meal type in daily order.
func WriteRecommendation(w io.Writer, rec *models.Recommendation, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, rec)
	}
	order := make(map[string]int, len(models.MealTypes))
	for i, t := range models.MealTypes {
		order[t] = i
	}
	meals := append([]models.RecommendedMeal(nil), rec.Meals...)
	sort.SliceStable(meals, func(i, j int) bool {
		return order[meals[i].MealType] < order[meals[j].MealType]
	})

	current := ""
	for _, m := range meals {
		if m.MealType != current {
			current = m.MealType
			fmt.Fprintf(w, "\n== %s ==\n", current)
		}
		fmt.Fprintf(w, "\n%s", m.MealName)
		if m.PrepTimeMinutes > 0 {
			fmt.Fprintf(w, " (%d min)", m.PrepTimeMinutes)
		}
		fmt.Fprintln(w)
		if m.Portion != "" {
			fmt.Fprintf(w, "Portion: %s\n", m.Portion)
		}
		if len(m.Ingredients) > 0 {
			fmt.Fprintf(w, "Ingredients: %s\n", strings.Join(m.Ingredients, ", "))
		}
		for i, step := range m.PreparationSteps {
			fmt.Fprintf(w, "  %d. %s\n", i+1, step)
		}
		if m.GoalSupport != "" {
			fmt.Fprintf(w, "Why: %s\n", m.GoalSupport)
		}
	}
	if len(meals) == 0 {
		fmt.Fprintln(w, "No meals recommended.")
	}
	return nil
}
