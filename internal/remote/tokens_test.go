package remote

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestFileTokenProvider_MissingTokenIsNotConnected(t *testing.T) {
	p := NewFileTokenProvider(filepath.Join(t.TempDir(), "tokens.json"))

	_, err := p.Token(context.Background(), "t1")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestFileTokenProvider_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	p := NewFileTokenProvider(path)

	if err := p.SetToken("t1", "secret"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	// A fresh provider reads the persisted file.
	p2 := NewFileTokenProvider(path)
	token, err := p2.Token(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "secret" {
		t.Errorf("unexpected token %q", token)
	}
}

func TestFileTokenProvider_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	p := NewFileTokenProvider(path)

	if err := p.SetToken("t1", "secret"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := p.DeleteToken("t1"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}

	_, err := p.Token(context.Background(), "t1")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after delete, got %v", err)
	}
}
