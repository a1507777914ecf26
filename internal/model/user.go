// Package model defines domain entities for the application.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Wire keys for the user profile document.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldEmail     = "email"
	FieldName      = "name"
)

// ErrMissingID is returned when a profile document has no usable id.
var ErrMissingID = errors.New("user document has no id")

// User is the persisted profile for a signed-in principal.
// ID is the identity provider's principal id and doubles as the document key.
type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
}

// NewUser builds a profile for a principal that has never been persisted.
func NewUser(id string, createdAt time.Time, email, name string) User {
	return User{
		ID:        id,
		CreatedAt: createdAt.UTC(),
		Email:     email,
		Name:      name,
	}
}

// Equal compares users by ID only.
func (u User) Equal(other User) bool {
	return u.ID == other.ID
}

// UserToWire maps a User to its document representation.
// Empty optional fields are left out; a zero CreatedAt is not written.
func UserToWire(u User) (map[string]any, error) {
	if u.ID == "" {
		return nil, ErrMissingID
	}
	doc := map[string]any{
		FieldID: u.ID,
	}
	if !u.CreatedAt.IsZero() {
		doc[FieldCreatedAt] = u.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if u.Email != "" {
		doc[FieldEmail] = u.Email
	}
	if u.Name != "" {
		doc[FieldName] = u.Name
	}
	return doc, nil
}

// UserFromWire maps a profile document back to a User.
// Missing optional fields default to empty; an unparsable createdAt
// decodes as the zero time.
func UserFromWire(doc map[string]any) (User, error) {
	id, ok := doc[FieldID].(string)
	if !ok || id == "" {
		return User{}, ErrMissingID
	}

	u := User{ID: id}

	if raw, ok := doc[FieldCreatedAt].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			u.CreatedAt = ts.UTC()
		}
	}

	email, err := optionalString(doc, FieldEmail)
	if err != nil {
		return User{}, err
	}
	u.Email = email

	name, err := optionalString(doc, FieldName)
	if err != nil {
		return User{}, err
	}
	u.Name = name

	return u, nil
}

func optionalString(doc map[string]any, key string) (string, error) {
	raw, ok := doc[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, raw)
	}
	return s, nil
}

// UserCodec adapts the user wire mapping to the document store's typed layer.
type UserCodec struct{}

// ToWire implements docstore.Codec.
func (UserCodec) ToWire(u User) (map[string]any, error) {
	return UserToWire(u)
}

// FromWire implements docstore.Codec.
func (UserCodec) FromWire(doc map[string]any) (User, error) {
	return UserFromWire(doc)
}
