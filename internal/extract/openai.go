package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// OpenAIClient calls the OpenAI Responses API with a JSON-schema text format.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a client. SDK-level retries are disabled;
// CompleteWithRetry owns the retry policy. Extra options are appended, which
// lets tests point the client at a local server.
func NewOpenAIClient(apiKey, model string, opts ...option.RequestOption) *OpenAIClient {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
		option.WithMaxRetries(0),
	}
	return &OpenAIClient{
		client: openai.NewClient(append(base, opts...)...),
		model:  model,
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete asks the model for output constrained to schema.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, schema *Schema) (json.RawMessage, error) {
	response, err := c.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(
					responses.ResponseInputMessageContentListParam{
						responses.ResponseInputContentParamOfInputText(prompt),
					},
					"user",
				),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigParamOfJSONSchema(schema.Name, schema.Def),
		},
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	text := stripCodeBlock(response.OutputText())
	payload := json.RawMessage(text)
	if !json.Valid(payload) {
		return nil, fmt.Errorf("parse %s json (raw: %s)", schema.Name, truncate(text, 200))
	}
	if err := schema.Validate(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			return &RetryableError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return fmt.Errorf("openai api status %d: %s", apiErr.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("openai api: %w", err)
}
