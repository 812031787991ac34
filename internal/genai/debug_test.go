package genai

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLogRecordsExchange(t *testing.T) {
	dir := t.TempDir()
	client := &Client{
		chat:      &mockChatService{resp: completion(`{"mode": "telephonic"}`)},
		model:     "gpt-4o-mini",
		debugMode: true,
		stateDir:  dir,
	}
	if _, err := client.Generate(context.Background(), "infer the delivery mode", "call me on the phone"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, debugDirName))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one debug file, got %d (%v)", len(entries), err)
	}
	if name := entries[0].Name(); !strings.HasSuffix(name, "_generatepromptwithcontext.json") {
		t.Errorf("unexpected debug file name %q", name)
	}
	raw, err := os.ReadFile(filepath.Join(dir, debugDirName, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var entry struct {
		Method   string          `json:"method"`
		Model    string          `json:"model"`
		Params   json.RawMessage `json:"params"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("debug file is not JSON: %v", err)
	}
	if entry.Model != "gpt-4o-mini" || entry.Method != "GeneratePromptWithContext" {
		t.Errorf("unexpected entry header %+v", entry)
	}
	if !strings.Contains(string(entry.Params), "call me on the phone") || !strings.Contains(string(entry.Response), "telephonic") {
		t.Errorf("expected prompt and answer in the debug entry, got %s / %s", entry.Params, entry.Response)
	}
}

func TestDebugLogSkipped(t *testing.T) {
	tests := []struct {
		name      string
		debugMode bool
		stateDir  bool
	}{
		{"debug off", false, true},
		{"no state dir", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			client := &Client{chat: &mockChatService{resp: completion("virtual")}, model: "m", debugMode: tt.debugMode}
			if tt.stateDir {
				client.stateDir = dir
			}
			if _, err := client.Generate(context.Background(), "sys", "usr"); err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, debugDirName)); !os.IsNotExist(err) {
				t.Errorf("debug directory should not exist, stat err=%v", err)
			}
		})
	}
}
