// Package interview runs the meal-recommendation interview: a language model proposes
// retrieval queries and analyst personas for each meal type, interviews an expert that
// answers from retrieved knowledge-base context, and writes structured meal suggestions.
package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/nutrirag/pkg/utils"
	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System, User and Assistant build messages.
func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Model is a chat language model.
type Model interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
}

// DefaultChatModel is used when OpenAIModelConfig.Model is empty.
const DefaultChatModel = openai.ChatModelGPT4o

// OpenAIModelConfig configures OpenAIModel.
type OpenAIModelConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxRetries  int
}

// OpenAIModel calls the chat completions API.
type OpenAIModel struct {
	client      *openai.Client
	model       string
	temperature float64
}

// NewOpenAIModel returns a model for cfg. The API key is required.
func NewOpenAIModel(cfg OpenAIModelConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIModel{client: &client, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Invoke sends messages and returns the first choice's content.
func (m *OpenAIModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(m.model),
		Messages:    make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
		Temperature: openai.Float(m.temperature),
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to call chat model: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// decodeJSON decodes the JSON object in a model answer, ignoring code fences and any
// prose around the outermost braces.
func decodeJSON(answer string, v interface{}) error {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in model answer %q", utils.Truncate(answer, 120))
	}
	if err := json.Unmarshal([]byte(answer[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to decode model answer: %w", err)
	}
	return nil
}

// invokeJSON calls the model and decodes its answer into v.
func invokeJSON(ctx context.Context, m Model, messages []Message, v interface{}) error {
	answer, err := m.Invoke(ctx, messages)
	if err != nil {
		return err
	}
	return decodeJSON(answer, v)
}
