package httprequest

import (
	"context"
	"net/http"

	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

// ActionFactory creates HTTP request actions sharing one client.
type ActionFactory struct {
	client *http.Client
}

// NewActionFactory creates a factory; a nil client means http.DefaultClient.
func NewActionFactory(client *http.Client) *ActionFactory {
	if client == nil {
		client = http.DefaultClient
	}

	return &ActionFactory{client: client}
}

func (f *ActionFactory) Create(_ context.Context, params map[string]any) (protocol.Action, error) {
	return NewAction(f.client, params)
}

func (f *ActionFactory) ID() string {
	return "http_request"
}

func (f *ActionFactory) Name() string {
	return "HTTP Request"
}

func (f *ActionFactory) Description() string {
	return "Performs an HTTP request and produces the status code, headers and decoded body on the main port."
}

// Schema returns the JSON schema for the action parameters.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to send the request to. Supports templating.",
				"minLength":   1,
				"examples": []string{
					"https://api.example.com/users",
					"https://api.example.com/users/{{ .input.user_id }}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "Request body. Strings are sent as-is, anything else as JSON.",
			},
			"timeout_seconds": map[string]any{
				"type":    "number",
				"minimum": 0,
				"default": 30,
			},
		},
		"required": []string{"url"},
	}
}
