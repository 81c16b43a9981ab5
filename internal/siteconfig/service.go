package siteconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"officeadmin.org/internal/obs"
)

// Cache keeps rendered public maps. Implementations must tolerate concurrent use.
type Cache interface {
	PublicMap(ctx context.Context, group string) (map[string]string, bool, error)
	StorePublicMap(ctx context.Context, group string, values map[string]string) error
	Invalidate(ctx context.Context) error
}

type Service struct {
	store  Store
	cache  Cache
	logger *slog.Logger
}

type Option func(*Service)

// WithCache enables caching of public map reads.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("siteconfig: store is required")
	}
	s := &Service{store: store, logger: obs.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Create(ctx context.Context, in Input) (Entry, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return Entry{}, err
	}
	e, err := s.store.CreateConfig(ctx, in)
	if err != nil {
		return Entry{}, err
	}
	s.invalidate(ctx)
	return e, nil
}

// List returns every entry, private groups included.
func (s *Service) List(ctx context.Context, group string) ([]Entry, error) {
	return s.store.ListConfigs(ctx, strings.TrimSpace(group))
}

// ListPublic returns entries outside private groups. Asking for a private group yields nothing.
func (s *Service) ListPublic(ctx context.Context, group string) ([]Entry, error) {
	group = strings.TrimSpace(group)
	if group != "" && IsPrivateGroup(group) {
		return []Entry{}, nil
	}
	entries, err := s.store.ListConfigs(ctx, group)
	if err != nil {
		return nil, err
	}
	return publicOnly(entries), nil
}

func (s *Service) Map(ctx context.Context, group string) (map[string]string, error) {
	entries, err := s.List(ctx, group)
	if err != nil {
		return nil, err
	}
	return toMap(entries), nil
}

// PublicMap is ListPublic in key/value form, served from the cache when one is configured.
func (s *Service) PublicMap(ctx context.Context, group string) (map[string]string, error) {
	group = strings.TrimSpace(group)
	if s.cache != nil {
		values, ok, err := s.cache.PublicMap(ctx, group)
		if err != nil {
			s.logger.WarnContext(ctx, "site config cache read failed", slog.Any("error", err))
		} else if ok {
			return values, nil
		}
	}
	entries, err := s.ListPublic(ctx, group)
	if err != nil {
		return nil, err
	}
	values := toMap(entries)
	if s.cache != nil {
		if err := s.cache.StorePublicMap(ctx, group, values); err != nil {
			s.logger.WarnContext(ctx, "site config cache write failed", slog.Any("error", err))
		}
	}
	return values, nil
}

func (s *Service) Groups(ctx context.Context) ([]string, error) {
	return s.store.ListConfigGroups(ctx)
}

func (s *Service) PublicGroups(ctx context.Context) ([]string, error) {
	groups, err := s.store.ListConfigGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if !IsPrivateGroup(g) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Service) ByKey(ctx context.Context, key string) (Entry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Entry{}, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	return s.store.GetConfigByKey(ctx, key)
}

// PublicByKey fails with ErrPrivate for entries in private groups.
func (s *Service) PublicByKey(ctx context.Context, key string) (Entry, error) {
	e, err := s.ByKey(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	if IsPrivateGroup(e.Group) {
		return Entry{}, ErrPrivate
	}
	return e, nil
}

func (s *Service) ByID(ctx context.Context, id string) (Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Entry{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.store.GetConfigByID(ctx, id)
}

func (s *Service) PublicByID(ctx context.Context, id string) (Entry, error) {
	e, err := s.ByID(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if IsPrivateGroup(e.Group) {
		return Entry{}, ErrPrivate
	}
	return e, nil
}

// GetValue returns the stored value of key or def when the key is absent.
func (s *Service) GetValue(ctx context.Context, key, def string) (string, error) {
	e, err := s.ByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

func (s *Service) Update(ctx context.Context, id string, upd Update) (Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Entry{}, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if upd.Group != nil {
		g := strings.TrimSpace(*upd.Group)
		if g == "" {
			g = DefaultGroup
		}
		upd.Group = &g
	}
	e, err := s.store.UpdateConfig(ctx, id, upd)
	if err != nil {
		return Entry{}, err
	}
	s.invalidate(ctx)
	return e, nil
}

func (s *Service) UpdateByKey(ctx context.Context, key string, upd Update) (Entry, error) {
	e, err := s.ByKey(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	return s.Update(ctx, e.ID, upd)
}

// Set writes value under key, creating the entry when missing. Existing entries keep
// their description and group.
func (s *Service) Set(ctx context.Context, key, value, description, group string) (Entry, error) {
	in, err := normalizeInput(Input{Key: key, Value: value, Description: description, Group: group})
	if err != nil {
		return Entry{}, err
	}
	e, err := s.store.UpsertConfig(ctx, in)
	if err != nil {
		return Entry{}, err
	}
	s.invalidate(ctx)
	return e, nil
}

// BatchUpsert applies Set semantics to every item.
func (s *Service) BatchUpsert(ctx context.Context, items []KeyValue) ([]Entry, error) {
	for _, item := range items {
		if strings.TrimSpace(item.Key) == "" {
			return nil, fmt.Errorf("%w: key is required", ErrInvalidInput)
		}
	}
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		e, err := s.store.UpsertConfig(ctx, Input{Key: strings.TrimSpace(item.Key), Value: item.Value, Group: DefaultGroup})
		if err != nil {
			s.invalidate(ctx)
			return nil, err
		}
		out = append(out, e)
	}
	s.invalidate(ctx)
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if err := s.store.DeleteConfig(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) DeleteByKey(ctx context.Context, key string) error {
	e, err := s.ByKey(ctx, key)
	if err != nil {
		return err
	}
	return s.Delete(ctx, e.ID)
}

// EnsureDefaults creates the entries that do not exist yet and returns how many were added.
func (s *Service) EnsureDefaults(ctx context.Context, defaults []Input) (int, error) {
	created := 0
	for _, in := range defaults {
		_, err := s.Create(ctx, in)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "site config cache invalidation failed", slog.Any("error", err))
	}
}

func normalizeInput(in Input) (Input, error) {
	in.Key = strings.TrimSpace(in.Key)
	if in.Key == "" {
		return Input{}, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	in.Description = strings.TrimSpace(in.Description)
	in.Group = strings.TrimSpace(in.Group)
	if in.Group == "" {
		in.Group = DefaultGroup
	}
	return in, nil
}
