package llmclient

import (
	"context"
	"testing"
)

func TestNewUnknownProviderType(t *testing.T) {
	_, err := New(Config{Type: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown provider type")
	}
}

func TestNewDefaultsToMock(t *testing.T) {
	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Name() != "mock" {
		t.Errorf("Name() = %q, want mock", p.Name())
	}
}

func TestMockProviderMatchesHandlerBySubstring(t *testing.T) {
	p := NewMockProvider([]MockHandler{
		{Contains: "flask request form", Response: `{"flask request form":"source"}`},
	})
	resp, err := p.Generate(context.Background(), Request{UserPrompt: "classify: flask request form"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != `{"flask request form":"source"}` {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestMockProviderFallsBackToDefault(t *testing.T) {
	p := NewMockProvider(nil)
	resp, err := p.Generate(context.Background(), Request{UserPrompt: "anything"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != p.Default {
		t.Errorf("Text = %q, want default %q", resp.Text, p.Default)
	}
}

func TestMockProviderRecordsCalls(t *testing.T) {
	p := NewMockProvider(nil)
	_, _ = p.Generate(context.Background(), Request{UserPrompt: "one"})
	_, _ = p.Generate(context.Background(), Request{UserPrompt: "two"})
	if len(p.Calls) != 2 {
		t.Fatalf("len(Calls) = %d, want 2", len(p.Calls))
	}
}
