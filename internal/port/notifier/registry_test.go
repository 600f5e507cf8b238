package notifier

import (
	"context"
	"errors"
	"testing"
)

type stubNotifier struct{ name string }

func (s stubNotifier) Name() string               { return s.name }
func (s stubNotifier) Capabilities() Capabilities { return Capabilities{} }
func (s stubNotifier) Send(context.Context, Notification) (Receipt, error) {
	return Receipt{}, nil
}

func TestRegisterAndNew(t *testing.T) {
	Register("test-stub", func(settings map[string]string) (Notifier, error) {
		if settings["url"] == "" {
			return nil, ErrNotConfigured
		}
		return stubNotifier{name: "test-stub"}, nil
	})

	if _, err := New("test-stub", nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	n, err := New("test-stub", map[string]string{"url": "http://x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Name() != "test-stub" {
		t.Fatalf("unexpected name %q", n.Name())
	}

	found := false
	for _, name := range Available() {
		if name == "test-stub" {
			found = true
		}
	}
	if !found {
		t.Fatal("test-stub missing from Available()")
	}
}

func TestNewUnknown(t *testing.T) {
	if _, err := New("does-not-exist", nil); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("dup-stub", func(map[string]string) (Notifier, error) { return stubNotifier{}, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register("dup-stub", func(map[string]string) (Notifier, error) { return stubNotifier{}, nil })
}

func TestConfigured(t *testing.T) {
	Register("cfg-a", func(s map[string]string) (Notifier, error) {
		if s["url"] == "" {
			return nil, ErrNotConfigured
		}
		return stubNotifier{name: "cfg-a"}, nil
	})
	Register("cfg-b", func(map[string]string) (Notifier, error) { return stubNotifier{name: "cfg-b"}, nil })
	Register("cfg-broken", func(map[string]string) (Notifier, error) { return nil, errors.New("bad token") })

	got, err := Configured(map[string]map[string]string{
		"cfg-b": nil,
		"cfg-a": {},
	})
	if err != nil {
		t.Fatalf("Configured: %v", err)
	}
	if len(got) != 1 || got[0].Name() != "cfg-b" {
		t.Fatalf("expected only cfg-b, got %v", got)
	}

	got, err = Configured(map[string]map[string]string{
		"cfg-a": {"url": "http://x"},
		"cfg-b": nil,
	})
	if err != nil || len(got) != 2 || got[0].Name() != "cfg-a" {
		t.Fatalf("expected cfg-a then cfg-b, got %v, %v", got, err)
	}

	if _, err := Configured(map[string]map[string]string{"cfg-broken": nil}); err == nil {
		t.Fatal("expected a factory error to fail the set")
	}
	if _, err := Configured(map[string]map[string]string{"nope": nil}); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}
