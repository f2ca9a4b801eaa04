package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/review-reconciler/internal/logging"
)

// systemPrompt is the fixed drafting template. Prompt tuning is deliberately
// out of scope; the text only changes with a deploy.
const systemPrompt = `Ты помогаешь продавцу маркетплейса составить жалобу на отзыв.
Напиши короткую, вежливую и предметную жалобу на отзыв покупателя от имени продавца.
Ответь только текстом жалобы, без преамбулы и пояснений.`

// OpenAIClient implements DraftGenerator over the OpenAI chat completion API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewOpenAIClient creates a draft generator. timeout bounds each completion
// call independently of the caller's context.
func NewOpenAIClient(apiKey, model string, timeout time.Duration, logger *logging.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &OpenAIClient{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// GenerateDraft produces a complaint text for one review.
func (c *OpenAIClient) GenerateDraft(ctx context.Context, req DraftRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Товар: %s\n", req.ProductTitle)
	fmt.Fprintf(&sb, "Оценка: %d из 5\n", req.Rating)
	if req.Author != "" {
		fmt.Fprintf(&sb, "Автор: %s\n", req.Author)
	}
	fmt.Fprintf(&sb, "Текст отзыва: %s\n", req.ReviewText)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("draft completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("draft completion returned no choices")
	}

	draft := strings.TrimSpace(resp.Choices[0].Message.Content)
	if draft == "" {
		return "", errors.New("draft completion returned empty text")
	}

	c.logger.WithField("model", c.model).Debug("complaint draft generated")
	return draft, nil
}
