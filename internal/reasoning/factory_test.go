package reasoning

import "testing"

func TestNewBackendDefaults(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		apiKey    string
		wantModel string
		wantErr   bool
	}{
		{name: "openai default model", provider: "openai", apiKey: "k", wantModel: "gpt-4o-mini"},
		{name: "anthropic default model", provider: "anthropic", apiKey: "k", wantModel: "claude-3-5-sonnet-20241022"},
		{name: "ollama needs no key", provider: "ollama", wantModel: "llama3.1"},
		{name: "deepseek default model", provider: "deepseek", apiKey: "k", wantModel: "deepseek-chat"},
		{name: "openai missing key", provider: "openai", wantErr: true},
		{name: "anthropic missing key", provider: "anthropic", wantErr: true},
		{name: "unknown provider", provider: "mystery", apiKey: "k", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, model, err := NewBackend(tt.provider, tt.apiKey, "", "")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend: %v", err)
			}
			if gen == nil {
				t.Fatal("nil generator")
			}
			if model != tt.wantModel {
				t.Errorf("model = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

func TestNewBackendExplicitModel(t *testing.T) {
	_, model, err := NewBackend("openai", "k", "gpt-4o", "")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", model)
	}
}
