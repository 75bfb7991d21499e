package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/nutrirag/internal/ingest"
	"github.com/hyperjump/nutrirag/internal/models"
	"go.uber.org/zap"
)

// ErrInvalidProfile is returned by Run when the profile fails validation.
var ErrInvalidProfile = errors.New("invalid user profile")

// endOfInterview is what an analyst says when it has heard enough.
const endOfInterview = "Thank you so much for your help"

// Retriever returns knowledge-base matches for a query. *retrieval.Engine implements it.
type Retriever interface {
	GetRetrievals(ctx context.Context, query string, topK int, filter map[string]interface{}) ([]models.Match, error)
}

// Analyst is a persona that interviews the expert about one meal type.
type Analyst struct {
	Name        string `json:"name"`
	Tone        string `json:"tone"`
	Theme       string `json:"theme"`
	Description string `json:"description"`
}

// MealQuery is a retrieval query for one meal type.
type MealQuery struct {
	MealType string `json:"meal_type"`
	Query    string `json:"query"`
}

// Workflow runs interviews against a model and a retriever.
type Workflow struct {
	model       Model
	retriever   Retriever
	maxAnalysts int
	maxTurns    int
	topK        int
	itemType    string
	logger      *zap.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

func WithLogger(l *zap.Logger) Option { return func(w *Workflow) { w.logger = l } }

// WithMaxAnalysts caps the analysts created per meal type.
func WithMaxAnalysts(n int) Option { return func(w *Workflow) { w.maxAnalysts = n } }

// WithMaxTurns sets how many expert answers each analyst collects.
func WithMaxTurns(n int) Option { return func(w *Workflow) { w.maxTurns = n } }

// WithTopK sets the number of matches retrieved per expert answer.
func WithTopK(k int) Option { return func(w *Workflow) { w.topK = k } }

// WithItemType restricts retrieval to items of this type. Empty disables the filter.
func WithItemType(t string) Option { return func(w *Workflow) { w.itemType = t } }

// New returns a workflow with one analyst per meal type and one turn per analyst.
func New(model Model, retriever Retriever, opts ...Option) *Workflow {
	w := &Workflow{
		model:       model,
		retriever:   retriever,
		maxAnalysts: 1,
		maxTurns:    1,
		topK:        models.DefaultTopK,
		itemType:    ingest.ItemTypeDocument,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.maxAnalysts < 1 {
		w.maxAnalysts = 1
	}
	if w.maxTurns < 1 {
		w.maxTurns = 1
	}
	if w.topK < 1 {
		w.topK = models.DefaultTopK
	}
	return w
}

// Run produces meal recommendations for profile.
func (w *Workflow) Run(ctx context.Context, profile models.UserProfile) (*models.Recommendation, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	profileJSON, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, err
	}
	p := string(profileJSON)

	queries, err := w.generateQueries(ctx, p)
	if err != nil {
		return nil, err
	}
	rec := &models.Recommendation{UserProfile: profile, Meals: []models.RecommendedMeal{}}
	for _, q := range queries {
		analysts, err := w.createAnalysts(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, a := range analysts {
			findings, err := w.interview(ctx, p, q, a)
			if err != nil {
				return nil, err
			}
			meals, err := w.writeRecommendations(ctx, p, q.MealType, findings)
			if err != nil {
				return nil, err
			}
			rec.Meals = append(rec.Meals, meals...)
		}
	}
	w.logger.Info("recommendations written", zap.Int("meals", len(rec.Meals)))
	return rec, nil
}

func (w *Workflow) generateQueries(ctx context.Context, profile string) ([]MealQuery, error) {
	var out struct {
		Queries []MealQuery `json:"queries"`
	}
	msgs := []Message{System(fmt.Sprintf(queriesPrompt, profile)), User("Write the retrieval queries.")}
	if err := invokeJSON(ctx, w.model, msgs, &out); err != nil {
		return nil, fmt.Errorf("failed to generate retrieval queries: %w", err)
	}
	queries := make([]MealQuery, 0, len(out.Queries))
	for _, q := range out.Queries {
		q.MealType = strings.ToUpper(strings.TrimSpace(q.MealType))
		if q.Query == "" || !knownMealType(q.MealType) {
			w.logger.Debug("ignoring retrieval query", zap.String("meal_type", q.MealType), zap.String("query", q.Query))
			continue
		}
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return nil, errors.New("model returned no usable retrieval queries")
	}
	return queries, nil
}

func (w *Workflow) createAnalysts(ctx context.Context, q MealQuery) ([]Analyst, error) {
	var out struct {
		Analysts []Analyst `json:"analysts"`
	}
	msgs := []Message{
		System(fmt.Sprintf(analystsPrompt, q.MealType, q.Query, w.maxAnalysts)),
		User("Create the analysts."),
	}
	if err := invokeJSON(ctx, w.model, msgs, &out); err != nil {
		return nil, fmt.Errorf("failed to create analysts for %s: %w", q.MealType, err)
	}
	if len(out.Analysts) == 0 {
		return nil, fmt.Errorf("model created no analysts for %s", q.MealType)
	}
	if len(out.Analysts) > w.maxAnalysts {
		out.Analysts = out.Analysts[:w.maxAnalysts]
	}
	return out.Analysts, nil
}

// interview runs the question/search/answer loop and returns the last expert answer.
// Conversation messages are kept from the analyst's side: its questions are assistant
// messages and the expert's answers are user messages.
func (w *Workflow) interview(ctx context.Context, profile string, q MealQuery, a Analyst) (string, error) {
	persona := System(fmt.Sprintf(questionPrompt, a.Name, a.Tone, a.Theme, a.Description, q.MealType, profile))
	conv := []Message{User(fmt.Sprintf("So you said you were researching %s meals?", strings.ToLower(q.MealType)))}
	var last string

	for turn := 0; turn < w.maxTurns; turn++ {
		question, err := w.model.Invoke(ctx, append([]Message{persona}, conv...))
		if err != nil {
			return "", fmt.Errorf("failed to ask question: %w", err)
		}
		if turn > 0 && strings.Contains(question, endOfInterview) {
			break
		}
		conv = append(conv, Assistant(question))

		query := w.searchQuery(ctx, conv, question)
		matches, err := w.retriever.GetRetrievals(ctx, query, w.topK, w.filter())
		if err != nil {
			return "", fmt.Errorf("failed to retrieve context: %w", err)
		}
		w.logger.Debug("interview retrieval",
			zap.String("analyst", a.Name),
			zap.String("query", query),
			zap.Int("matches", len(matches)))

		expert := []Message{System(fmt.Sprintf(answerPrompt, a.Name, a.Description, formatContext(matches)))}
		expert = append(expert, flipRoles(conv)...)
		answer, err := w.model.Invoke(ctx, expert)
		if err != nil {
			return "", fmt.Errorf("failed to answer question: %w", err)
		}
		conv = append(conv, User(answer))
		last = answer
	}
	return last, nil
}

// searchQuery asks the model for a search query and falls back to the question itself.
func (w *Workflow) searchQuery(ctx context.Context, conv []Message, question string) string {
	var out struct {
		SearchQuery string `json:"search_query"`
	}
	msgs := append([]Message{System(searchPrompt)}, conv...)
	if err := invokeJSON(ctx, w.model, msgs, &out); err != nil || strings.TrimSpace(out.SearchQuery) == "" {
		w.logger.Debug("using question as search query", zap.Error(err))
		return question
	}
	return out.SearchQuery
}

func (w *Workflow) writeRecommendations(ctx context.Context, profile, mealType, findings string) ([]models.RecommendedMeal, error) {
	var out struct {
		Meals []models.RecommendedMeal `json:"meals"`
	}
	msgs := []Message{
		System(fmt.Sprintf(writerPrompt, strings.ToLower(mealType), profile, findings, mealType)),
		User("Write the meal recommendations."),
	}
	if err := invokeJSON(ctx, w.model, msgs, &out); err != nil {
		return nil, fmt.Errorf("failed to write %s recommendations: %w", mealType, err)
	}
	for i := range out.Meals {
		if out.Meals[i].MealType == "" {
			out.Meals[i].MealType = mealType
		}
	}
	return out.Meals, nil
}

func (w *Workflow) filter() map[string]interface{} {
	if w.itemType == "" {
		return nil
	}
	return map[string]interface{}{models.MetaItemType: w.itemType}
}

// formatContext renders matches as numbered documents for the expert prompt.
func formatContext(matches []models.Match) string {
	if len(matches) == 0 {
		return "No documents found."
	}
	var b strings.Builder
	for i, m := range matches {
		source := m.Metadata.String(ingest.MetaSource)
		if source == "" {
			source = m.ID
		}
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&b, "<Document source=%q index=\"%d\">\n%s\n</Document>", source, i+1, m.Content())
	}
	return b.String()
}

func flipRoles(conv []Message) []Message {
	out := make([]Message, len(conv))
	for i, m := range conv {
		switch m.Role {
		case RoleAssistant:
			out[i] = User(m.Content)
		case RoleUser:
			out[i] = Assistant(m.Content)
		default:
			out[i] = m
		}
	}
	return out
}

func knownMealType(t string) bool {
	for _, m := range models.MealTypes {
		if m == t {
			return true
		}
	}
	return false
}
