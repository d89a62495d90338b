package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"codes-bot/internal/pkg/json"
)

// ssmAPI is the slice of *ssm.Client the bot needs.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter reads one decrypted parameter value.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads secrets from SSM Parameter Store.
type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter returns the decrypted value of name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// tokenPayload is the JSON shape some deployments store the bot token in.
type tokenPayload struct {
	Token string `json:"token"`
}

// BotToken reads the bot token stored under name. The parameter holds either
// the bare token or a JSON object {"token": "..."}.
func BotToken(ctx context.Context, g Getter, name string) (string, error) {
	if g == nil {
		return "", errors.New("paramstore: getter must not be nil")
	}
	raw, err := g.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch bot token: %w", err)
	}

	token := strings.TrimSpace(raw)
	if strings.HasPrefix(token, "{") {
		var tp tokenPayload
		if err := json.UnmarshalString(token, &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal bot token value as JSON: %w", err)
		}
		token = strings.TrimSpace(tp.Token)
	}
	if token == "" {
		return "", errors.New("paramstore: bot token is empty")
	}
	return token, nil
}
