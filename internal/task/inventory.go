package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const inventoryTimeout = time.Minute

// InventoryLister lists the hosts the apply executable would target.
type InventoryLister struct {
	projectPath string
	binary      string
}

func NewInventoryLister(projectPath, binary string) *InventoryLister {
	if binary == "" {
		binary = "ansible-inventory"
	}
	return &InventoryLister{projectPath: projectPath, binary: binary}
}

func (l *InventoryLister) Inventory(ctx context.Context, inventory string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, inventoryTimeout)
	defer cancel()

	args := []string{"--list"}
	if inventory != "" {
		args = append(args, "-i", inventory)
	}
	cmd := exec.CommandContext(ctx, l.binary, args...)
	cmd.Dir = l.projectPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", l.binary, err, strings.TrimSpace(stderr.String()))
	}
	if !json.Valid(stdout.Bytes()) {
		return nil, fmt.Errorf("%s returned invalid json", l.binary)
	}
	return json.RawMessage(stdout.Bytes()), nil
}
