package llm

import (
	"context"
	"errors"
	"testing"
)

func TestFunc_Generate(t *testing.T) {
	var got string
	m := Func(func(_ context.Context, prompt string) (string, error) {
		got = prompt
		return "answer", nil
	})

	text, err := m.Generate(context.Background(), "question")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if text != "answer" || got != "question" {
		t.Errorf("Generate() = %q for prompt %q", text, got)
	}
}

func TestFunc_PropagatesError(t *testing.T) {
	boom := errors.New("quota exceeded")
	m := Func(func(context.Context, string) (string, error) { return "", boom })

	if _, err := m.Generate(context.Background(), "q"); !errors.Is(err, boom) {
		t.Errorf("Generate() error = %v, want %v", err, boom)
	}
}

func TestNewGenAIModel_RequiresKey(t *testing.T) {
	if _, err := NewGenAIModel(context.Background(), "", ""); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestGenerate_RecoversPanic(t *testing.T) {
	m := Func(func(context.Context, string) (string, error) { panic("nil client") })

	text, err := Generate(context.Background(), m, "q")
	if !errors.Is(err, ErrPanic) {
		t.Errorf("Generate() error = %v, want %v", err, ErrPanic)
	}
	if text != "" {
		t.Errorf("Generate() text = %q, want empty", text)
	}
}
