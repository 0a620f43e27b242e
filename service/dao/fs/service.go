package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/nazarick/gatekeeper/service/dao"
)

// Service is a generic filesystem-backed implementation of dao.Service. Each
// entity is persisted as an individual JSON document under baseURL, so a
// record that has been acknowledged survives a crash immediately after the
// write. The viant/afs abstraction keeps the store portable across local
// and cloud storage schemes.
type Service[K comparable, T any] struct {
	baseURL     string
	fs          afs.Service
	mu          sync.RWMutex
	keySelector func(*T) K
}

// New creates a filesystem store rooted at baseURL. keySelector extracts the
// entity key used as the document name.
func New[K comparable, T any](baseURL string, keySelector func(*T) K) (*Service[K, T], error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	fsService := afs.New()
	ctx := context.Background()
	if exists, _ := fsService.Exists(ctx, baseURL); !exists {
		if err := fsService.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &Service[K, T]{
		baseURL:     url.Normalize(baseURL, file.Scheme),
		fs:          fsService,
		keySelector: keySelector,
	}, nil
}

// Save persists an entity as a JSON document.
func (s *Service[K, T]) Save(ctx context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(v)
	var zero K
	if key == zero {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}
	location := s.entityPath(key)
	if err = s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save entity to %s: %w", location, err)
	}
	return nil
}

// Load retrieves an entity by key; it returns (nil, nil) when absent.
func (s *Service[K, T]) Load(ctx context.Context, key K) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	location := s.entityPath(key)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", location, err)
	}
	if !exists {
		return nil, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	var entity T
	if err = json.Unmarshal(data, &entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", location, err)
	}
	return &entity, nil
}

// Delete removes an entity document.
func (s *Service[K, T]) Delete(ctx context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	location := s.entityPath(key)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", location, err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err = s.fs.Delete(ctx, location); err != nil {
		return fmt.Errorf("failed to delete %s: %w", location, err)
	}
	return nil
}

// List returns all stored entities. Unreadable documents are skipped so that
// one corrupted file does not take the whole store down.
func (s *Service[K, T]) List(ctx context.Context) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.baseURL, err)
	}
	var result []*T
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			log.Printf("dao/fs: error reading %s: %v", object.URL(), err)
			continue
		}
		var entity T
		if err = json.Unmarshal(data, &entity); err != nil {
			log.Printf("dao/fs: error unmarshaling %s: %v", object.URL(), err)
			continue
		}
		result = append(result, &entity)
	}
	return result, nil
}

func (s *Service[K, T]) entityPath(key K) string {
	return url.Join(s.baseURL, fmt.Sprintf("%v.json", key))
}

var _ dao.Service[string, any] = (*Service[string, any])(nil)
