package task

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestInventoryReturnsListOutput(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "inventory", `#!/bin/sh
if [ "$1" != "--list" ]; then exit 2; fi
echo '{"all":{"hosts":["wg1"]}}'
`)
	lister := NewInventoryLister(dir, filepath.Join(dir, "inventory"))

	out, err := lister.Inventory(context.Background(), "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var parsed map[string]map[string][]string
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("expected json output, got %v", err)
	}
	if hosts := parsed["all"]["hosts"]; len(hosts) != 1 || hosts[0] != "wg1" {
		t.Fatalf("expected wg1 host, got %v", hosts)
	}
}

func TestInventoryPassesInventoryPath(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "inventory", `#!/bin/sh
echo "{\"args\":\"$*\"}"
`)
	lister := NewInventoryLister(dir, filepath.Join(dir, "inventory"))

	out, err := lister.Inventory(context.Background(), "hosts.ini")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(string(out), "--list -i hosts.ini") {
		t.Fatalf("expected inventory flag, got %s", out)
	}
}

func TestInventoryRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "inventory", "#!/bin/sh\necho not-json\n")
	lister := NewInventoryLister(dir, filepath.Join(dir, "inventory"))

	if _, err := lister.Inventory(context.Background(), ""); err == nil {
		t.Fatal("expected invalid json error")
	}
}

func TestInventoryReportsStderrOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "inventory", "#!/bin/sh\necho 'no inventory parsed' >&2\nexit 1\n")
	lister := NewInventoryLister(dir, filepath.Join(dir, "inventory"))

	_, err := lister.Inventory(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "no inventory parsed") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}
