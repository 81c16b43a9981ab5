// Package siteconfig stores key/value site settings grouped by purpose. Groups whose name
// starts with a private prefix are hidden from unauthenticated readers.
package siteconfig

import (
	"context"
	"fmt"
	"strings"
	"time"

	"officeadmin.org/internal/auth"
)

const DefaultGroup = "general"

var privateGroupPrefixes = []string{"secret", "private", "credential"}

var (
	ErrNotFound     = fmt.Errorf("config entry %w", auth.ErrNotFound)
	ErrConflict     = fmt.Errorf("config key already exists: %w", auth.ErrConflict)
	ErrPrivate      = fmt.Errorf("config entry is not public: %w", auth.ErrForbidden)
	ErrInvalidInput = auth.ErrInvalidInput
)

// Entry is one stored setting.
type Entry struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	Group       string    `json:"group"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Input creates an entry. An empty Group means DefaultGroup.
type Input struct {
	Key         string `json:"key" validate:"required,max=128"`
	Value       string `json:"value"`
	Description string `json:"description" validate:"max=512"`
	Group       string `json:"group" validate:"max=64"`
}

// Update changes the non-nil fields of an entry.
type Update struct {
	Value       *string
	Description *string
	Group       *string
}

// KeyValue is one item of a batch upsert.
type KeyValue struct {
	Key   string `json:"key" validate:"required,max=128"`
	Value string `json:"value"`
}

// Store persists entries. Listings are ordered by key; an empty group means all groups.
type Store interface {
	CreateConfig(ctx context.Context, in Input) (Entry, error)
	ListConfigs(ctx context.Context, group string) ([]Entry, error)
	GetConfigByID(ctx context.Context, id string) (Entry, error)
	GetConfigByKey(ctx context.Context, key string) (Entry, error)
	UpdateConfig(ctx context.Context, id string, upd Update) (Entry, error)
	// UpsertConfig inserts in, or only replaces the value when the key exists.
	UpsertConfig(ctx context.Context, in Input) (Entry, error)
	DeleteConfig(ctx context.Context, id string) error
	ListConfigGroups(ctx context.Context) ([]string, error)
}

// IsPrivateGroup reports whether group is hidden from public readers.
func IsPrivateGroup(group string) bool {
	lower := strings.ToLower(group)
	for _, prefix := range privateGroupPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func toMap(entries []Entry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out
}

func publicOnly(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !IsPrivateGroup(e.Group) {
			out = append(out, e)
		}
	}
	return out
}
