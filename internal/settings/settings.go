// Package settings is the local key-value store for device preferences.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Known keys.
const (
	KeyHasCompletedOnboarding = "hasCompletedOnboarding"
	KeyIdentitySession        = "identity.session"
)

// Kind tags the type a value was stored with.
type Kind string

const (
	KindBool   Kind = "bool"
	KindString Kind = "string"
	KindData   Kind = "data"
	KindFloat  Kind = "float"
	KindInt    Kind = "int"
)

// Settings errors.
var (
	ErrEmptyKey     = errors.New("settings key is empty")
	ErrKindMismatch = errors.New("settings value has a different type")
)

// Backend persists raw tagged values.
type Backend interface {
	// Get returns ok=false when key is not set.
	Get(ctx context.Context, key string) (kind Kind, value []byte, ok bool, err error)
	Put(ctx context.Context, key string, kind Kind, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Settings is a typed view over a Backend. A missing key reads as the
// zero value.
type Settings struct {
	backend Backend
}

// New creates Settings over backend.
func New(backend Backend) *Settings {
	return &Settings{backend: backend}
}

func (s *Settings) get(ctx context.Context, key string, want Kind) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	kind, value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	if kind != want {
		return nil, false, fmt.Errorf("%w: %q is %s, not %s", ErrKindMismatch, key, kind, want)
	}
	return value, true, nil
}

func (s *Settings) put(ctx context.Context, key string, kind Kind, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.backend.Put(ctx, key, kind, value); err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// Bool reads a boolean.
func (s *Settings) Bool(ctx context.Context, key string) (bool, error) {
	raw, ok, err := s.get(ctx, key, KindBool)
	if err != nil || !ok {
		return false, err
	}
	return string(raw) == "1", nil
}

// SetBool writes a boolean.
func (s *Settings) SetBool(ctx context.Context, key string, v bool) error {
	raw := "0"
	if v {
		raw = "1"
	}
	return s.put(ctx, key, KindBool, []byte(raw))
}

// String reads a string.
func (s *Settings) String(ctx context.Context, key string) (string, error) {
	raw, ok, err := s.get(ctx, key, KindString)
	if err != nil || !ok {
		return "", err
	}
	return string(raw), nil
}

// SetString writes a string.
func (s *Settings) SetString(ctx context.Context, key, v string) error {
	return s.put(ctx, key, KindString, []byte(v))
}

// Data reads raw bytes. A missing key returns nil.
func (s *Settings) Data(ctx context.Context, key string) ([]byte, error) {
	raw, ok, err := s.get(ctx, key, KindData)
	if err != nil || !ok {
		return nil, err
	}
	return raw, nil
}

// SetData writes raw bytes.
func (s *Settings) SetData(ctx context.Context, key string, v []byte) error {
	return s.put(ctx, key, KindData, v)
}

// Float reads a float64.
func (s *Settings) Float(ctx context.Context, key string) (float64, error) {
	raw, ok, err := s.get(ctx, key, KindFloat)
	if err != nil || !ok {
		return 0, err
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse setting %q: %w", key, err)
	}
	return f, nil
}

// SetFloat writes a float64.
func (s *Settings) SetFloat(ctx context.Context, key string, v float64) error {
	return s.put(ctx, key, KindFloat, []byte(strconv.FormatFloat(v, 'g', -1, 64)))
}

// Int reads an int64.
func (s *Settings) Int(ctx context.Context, key string) (int64, error) {
	raw, ok, err := s.get(ctx, key, KindInt)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse setting %q: %w", key, err)
	}
	return n, nil
}

// SetInt writes an int64.
func (s *Settings) SetInt(ctx context.Context, key string, v int64) error {
	return s.put(ctx, key, KindInt, []byte(strconv.FormatInt(v, 10)))
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Settings) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to remove setting %q: %w", key, err)
	}
	return nil
}

// Ping checks the backend.
func (s *Settings) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close closes the backend.
func (s *Settings) Close() error {
	return s.backend.Close()
}

// HasCompletedOnboarding reports whether onboarding was finished.
func (s *Settings) HasCompletedOnboarding(ctx context.Context) (bool, error) {
	return s.Bool(ctx, KeyHasCompletedOnboarding)
}

// SetHasCompletedOnboarding records onboarding completion.
func (s *Settings) SetHasCompletedOnboarding(ctx context.Context, v bool) error {
	return s.SetBool(ctx, KeyHasCompletedOnboarding, v)
}
