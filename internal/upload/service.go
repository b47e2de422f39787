// Package upload validates and forwards attachments to Poe. Identical content is
// uploaded once per cache lifetime, and concurrent uploads of the same bytes
// share a single request.
package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/poeproxy/poe-openai-proxy/internal/cache"
	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Backend performs the actual upload. *poe.Client satisfies it.
type Backend interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (poe.Attachment, error)
}

// Mirror receives a copy of every freshly uploaded file. *store.ObjectMirror satisfies it.
type Mirror interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Error is a rejected or failed upload with its HTTP status.
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// StatusCode implements the status carrier used by the HTTP layer.
func (e *Error) StatusCode() int { return e.Code }

// Service uploads attachments. It is safe for concurrent use.
type Service struct {
	backend Backend
	mirror  Mirror
	cache   *cache.TTL[poe.Attachment]
	group   singleflight.Group

	mu       sync.RWMutex
	maxBytes int64
	maxMB    int
	allowed  map[string]struct{}
	// keys maps attachment URLs to their cache keys so they can be discarded.
	keys    map[string]string
	observe func(result string)
}

// NewService builds a service. mirror may be nil.
func NewService(cfg config.UploadConfig, backend Backend, mirror Mirror) *Service {
	s := &Service{
		backend: backend,
		mirror:  mirror,
		cache:   cache.NewTTL[poe.Attachment](time.Duration(cfg.CacheTTLSeconds) * time.Second),
		keys:    make(map[string]string),
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig applies new limits; used on config reload.
func (s *Service) UpdateConfig(cfg config.UploadConfig) {
	maxMB := cfg.MaxFileSizeMB
	if maxMB <= 0 {
		maxMB = config.DefaultMaxFileSizeMB
	}
	types := cfg.AllowedTypes
	if len(types) == 0 {
		types = config.DefaultAllowedFileTypes
	}
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	s.mu.Lock()
	s.maxMB = maxMB
	s.maxBytes = int64(maxMB) * 1024 * 1024
	s.allowed = allowed
	s.mu.Unlock()
	s.cache.SetTTL(time.Duration(cfg.CacheTTLSeconds) * time.Second)
}

// SetObserver installs fn to be called with "uploaded", "cached" or "failed"
// after each upload.
func (s *Service) SetObserver(fn func(result string)) {
	s.mu.Lock()
	s.observe = fn
	s.mu.Unlock()
}

func (s *Service) record(result string) {
	s.mu.RLock()
	fn := s.observe
	s.mu.RUnlock()
	if fn != nil {
		fn(result)
	}
}

// Validate checks a client-supplied file before it is read.
func (s *Service) Validate(name, contentType string, size int64) error {
	if strings.TrimSpace(name) == "" {
		return &Error{Code: http.StatusBadRequest, Message: "File must have a filename."}
	}
	if err := s.checkSize(size); err != nil {
		return err
	}
	s.mu.RLock()
	_, ok := s.allowed[strings.ToLower(mediaType(contentType))]
	s.mu.RUnlock()
	if !ok {
		return &Error{Code: http.StatusUnsupportedMediaType, Message: fmt.Sprintf("File type '%s' not supported.", contentType)}
	}
	return nil
}

func (s *Service) checkSize(size int64) error {
	s.mu.RLock()
	maxBytes, maxMB := s.maxBytes, s.maxMB
	s.mu.RUnlock()
	if size > maxBytes {
		return &Error{Code: http.StatusRequestEntityTooLarge, Message: fmt.Sprintf("File size exceeds %dMB limit.", maxMB)}
	}
	return nil
}

// Upload sends src to Poe, reusing a cached attachment for identical content.
func (s *Service) Upload(ctx context.Context, src Source) (poe.Attachment, error) {
	loaded, err := src.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return poe.Attachment{}, &Error{Code: http.StatusBadRequest, Message: fmt.Sprintf("File not found: %s", src.Path), Err: err}
		}
		return poe.Attachment{}, &Error{Code: http.StatusBadRequest, Message: fmt.Sprintf("Failed to read file %s: %v", src.Path, err), Err: err}
	}
	if err = s.checkSize(int64(len(loaded.Data))); err != nil {
		return poe.Attachment{}, err
	}

	key := cache.HashKey([]byte(loaded.ContentType), loaded.Data)
	if att, ok := s.cache.Get(key); ok {
		att.Name = loaded.Name
		logging.Entry(ctx).Debugf("upload cache hit for %s", loaded.Name)
		s.record("cached")
		return att, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		if att, ok := s.cache.Get(key); ok {
			return att, nil
		}
		att, errUpload := s.backend.Upload(ctx, loaded.Name, loaded.ContentType, loaded.Data)
		if errUpload != nil {
			return poe.Attachment{}, errUpload
		}
		s.cache.Put(key, att)
		s.mu.Lock()
		s.keys[att.URL] = MirrorKey(key, loaded.Name)
		s.mu.Unlock()
		s.mirrorCopy(ctx, key, loaded)
		return att, nil
	})
	if err != nil {
		s.record("failed")
		return poe.Attachment{}, err
	}
	s.record("uploaded")
	att := v.(poe.Attachment)
	att.Name = loaded.Name
	logging.Entry(ctx).Infof("uploaded %s (%s, %d bytes)", loaded.Name, loaded.ContentType, len(loaded.Data))
	return att, nil
}

// UploadAll uploads sources in parallel and returns attachments in input order.
// The first failure cancels the remaining uploads.
func (s *Service) UploadAll(ctx context.Context, sources []Source) ([]poe.Attachment, error) {
	out := make([]poe.Attachment, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range sources {
		i := i
		g.Go(func() error {
			att, err := s.Upload(gctx, sources[i])
			if err != nil {
				return err
			}
			out[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Discard forgets an uploaded attachment so the next upload of the same
// content goes to Poe again, and removes its mirrored copy.
func (s *Service) Discard(ctx context.Context, att poe.Attachment) {
	s.mu.Lock()
	mirrorKey, ok := s.keys[att.URL]
	delete(s.keys, att.URL)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.cache.Delete(cacheKeyFromMirrorKey(mirrorKey))
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Delete(ctx, mirrorKey); err != nil {
		logging.Entry(ctx).Warnf("attachment mirror delete failed for %s: %v", att.Name, err)
	}
}

func cacheKeyFromMirrorKey(mirrorKey string) string {
	parts := strings.SplitN(mirrorKey, "/", 4)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// MirrorKey is the object key used for content with the given cache key.
func MirrorKey(key, name string) string {
	return "attachments/" + key[:2] + "/" + key + "/" + strings.ReplaceAll(name, "/", "_")
}

func (s *Service) mirrorCopy(ctx context.Context, key string, src Source) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Put(ctx, MirrorKey(key, src.Name), src.Data, src.ContentType); err != nil {
		logging.Entry(ctx).Warnf("attachment mirror failed for %s: %v", src.Name, err)
	}
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mt)
}
