package http

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

func parsePathUUID(r *http.Request, name string) (string, error) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return id.String(), nil
}

func validatePlaybookName(name string) error {
	if name == "" {
		return fmt.Errorf("playbook is required")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(filepath.Clean(name), "..") {
		return fmt.Errorf("playbook must be relative to the project")
	}
	if ext := filepath.Ext(name); ext != ".yml" && ext != ".yaml" {
		return fmt.Errorf("playbook must be a yaml file")
	}
	return nil
}
