// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vanyastaff/nebulav2/pkg/registry"
)

const httpActionTimeout = 30 * time.Second

// NewRegistry returns a registry holding the built-in actions.
func NewRegistry(logger *slog.Logger) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	err := reg.RegisterDefaultActions(&http.Client{Timeout: httpActionTimeout})
	if err != nil {
		return nil, err
	}

	return reg, nil
}
