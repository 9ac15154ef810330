package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/FranksOps/vaxscrape/pkg/httpclient"
)

const profileSystemPrompt = "You are an assistant that creates user profiles from survey responses."

// ProfilerConfig configures the profiling agent.
type ProfilerConfig struct {
	APIKey string
	// BaseURL overrides the OpenAI endpoint, e.g. for a compatible gateway.
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Profiler generates profiles with an OpenAI chat completion.
type Profiler struct {
	cfg    ProfilerConfig
	llm    openai.Client
	client *httpclient.Client
	logger *slog.Logger
}

// NewProfiler returns a Profiler. A missing API key is an error.
func NewProfiler(cfg ProfilerConfig) (*Profiler, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("agent: profiler: missing OpenAI API key")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("agent: profiler: %w", err)
	}

	return &Profiler{
		cfg:    cfg,
		llm:    openai.NewClient(opts...),
		client: client,
		logger: cfg.Logger,
	}, nil
}

// Handle builds a profile from payload.survey_responses and posts
// {"profile": ...} to the sender.
func (p *Profiler) Handle(ctx context.Context, env Envelope) error {
	responses := env.Field("survey_responses")
	if responses == "" {
		return fmt.Errorf("%w: no survey responses provided", ErrBadRequest)
	}
	to, err := env.replyURL()
	if err != nil {
		return err
	}

	profile, err := p.Generate(ctx, responses)
	if err != nil {
		return err
	}
	p.logger.Info("profile generated", "sender", to, "chars", len(profile))

	return reply(ctx, p.client, to, map[string]string{"profile": profile})
}

// Generate asks the model for a profile of the given survey responses.
func (p *Profiler) Generate(ctx context.Context, surveyResponses string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	prompt := fmt.Sprintf("Given the following survey responses: %s, "+
		"generate a comprehensive user profile summarizing their preferences, behaviors, and characteristics.", surveyResponses)

	resp, err := p.llm.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(profileSystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(p.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("agent: profile completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("agent: profile completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
