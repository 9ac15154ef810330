package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/vaxscrape/pkg/httpclient"
)

// DefaultVectaraEndpoint is the Vectara chat API.
const DefaultVectaraEndpoint = "https://api.vectara.io/v2/chats"

const ragPromptTemplate = `You are an assistant helping users who are vaccine-hesitant.
Your goal is to provide clear, factual information to address their concerns.

Based on the following profile, provide a response that gently informs and supports the user.
PROFILE: %s

Limit your response to 200 words.
`

// RAGConfig configures the Vectara-backed responder.
type RAGConfig struct {
	APIKey    string
	CorpusKey string
	Endpoint  string
	// Limit is how many search results ground the answer. Default 5.
	Limit   int
	Timeout time.Duration
	Logger  *slog.Logger
}

// RAG answers profiles from a Vectara corpus.
type RAG struct {
	cfg    RAGConfig
	client *httpclient.Client
	logger *slog.Logger
}

type vectaraCorpus struct {
	CorpusKey string `json:"corpus_key"`
	Semantics string `json:"semantics"`
}

type vectaraChatRequest struct {
	Query  string `json:"query"`
	Search struct {
		Corpora []vectaraCorpus `json:"corpora"`
		Offset  int             `json:"offset"`
		Limit   int             `json:"limit"`
	} `json:"search"`
	Chat struct {
		Store bool `json:"store"`
	} `json:"chat"`
}

type vectaraChatResponse struct {
	ChatID string `json:"chat_id"`
	TurnID string `json:"turn_id"`
	Answer string `json:"answer"`
}

// NewRAG returns a RAG responder. API key and corpus key are required.
func NewRAG(cfg RAGConfig) (*RAG, error) {
	if cfg.APIKey == "" || cfg.CorpusKey == "" {
		return nil, errors.New("agent: rag: Vectara API key and corpus key are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultVectaraEndpoint
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client, err := httpclient.New(httpclient.Config{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("agent: rag: %w", err)
	}
	return &RAG{cfg: cfg, client: client, logger: cfg.Logger}, nil
}

// Handle answers payload.profile and posts {"rag_response": ...} to the sender.
func (r *RAG) Handle(ctx context.Context, env Envelope) error {
	profile := env.Field("profile")
	if profile == "" {
		return fmt.Errorf("%w: no profile provided", ErrBadRequest)
	}
	to, err := env.replyURL()
	if err != nil {
		return err
	}

	answer, err := r.Answer(ctx, profile)
	if err != nil {
		return err
	}
	return reply(ctx, r.client, to, map[string]string{"rag_response": answer})
}

// Answer creates a Vectara chat for the profile and returns its answer.
func (r *RAG) Answer(ctx context.Context, profile string) (string, error) {
	var req vectaraChatRequest
	req.Query = fmt.Sprintf(ragPromptTemplate, profile)
	req.Search.Corpora = []vectaraCorpus{{CorpusKey: r.cfg.CorpusKey, Semantics: "default"}}
	req.Search.Limit = r.cfg.Limit
	req.Chat.Store = true

	header := http.Header{"X-Api-Key": {r.cfg.APIKey}}

	var resp vectaraChatResponse
	if err := r.client.DoJSON(ctx, http.MethodPost, r.cfg.Endpoint, header, req, &resp); err != nil {
		return "", fmt.Errorf("agent: vectara chat: %w", err)
	}
	if resp.Answer == "" {
		return "", errors.New("agent: vectara returned an empty answer")
	}
	r.logger.Info("vectara chat created", "chat_id", resp.ChatID)
	return resp.Answer, nil
}
