package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poeproxy/poe-openai-proxy/internal/config"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
)

type fakeBackend struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeBackend) Upload(ctx context.Context, name, contentType string, data []byte) (poe.Attachment, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return poe.Attachment{}, f.err
	}
	return poe.Attachment{URL: "https://pfst/" + name, ContentType: contentType, Name: name}, nil
}

type fakeMirror struct {
	mu      sync.Mutex
	keys    []string
	deleted []string
}

func (m *fakeMirror) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	return nil
}

func (m *fakeMirror) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, key)
	m.mu.Unlock()
	return nil
}

func testConfig() config.UploadConfig {
	return config.UploadConfig{MaxFileSizeMB: 1, CacheTTLSeconds: 60}
}

func TestValidate(t *testing.T) {
	s := NewService(testConfig(), &fakeBackend{}, nil)
	tests := []struct {
		name        string
		filename    string
		contentType string
		size        int64
		want        int
	}{
		{"ok", "a.png", "image/png", 10, 0},
		{"ok with params", "a.txt", "text/plain; charset=utf-8", 10, 0},
		{"no filename", "", "image/png", 10, http.StatusBadRequest},
		{"too large", "a.png", "image/png", 2 * 1024 * 1024, http.StatusRequestEntityTooLarge},
		{"bad type", "a.exe", "application/x-msdownload", 10, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.filename, tt.contentType, tt.size)
			if tt.want == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var upErr *Error
			if !errors.As(err, &upErr) || upErr.StatusCode() != tt.want {
				t.Fatalf("got %v, want status %d", err, tt.want)
			}
		})
	}
}

func TestUploadCachesIdenticalContent(t *testing.T) {
	backend := &fakeBackend{}
	mirror := &fakeMirror{}
	s := NewService(testConfig(), backend, mirror)
	ctx := context.Background()

	first, err := s.Upload(ctx, BytesSource("a.txt", "text/plain", []byte("same")))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	second, err := s.Upload(ctx, BytesSource("b.txt", "text/plain", []byte("same")))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if backend.calls.Load() != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls.Load())
	}
	if second.URL != first.URL || second.Name != "b.txt" {
		t.Fatalf("cached attachment should keep URL and take the new name: %+v", second)
	}
	if len(mirror.keys) != 1 {
		t.Fatalf("mirror should receive one copy, got %v", mirror.keys)
	}
}

func TestUploadConcurrentCallsShareRequest(t *testing.T) {
	backend := &fakeBackend{delay: 50 * time.Millisecond}
	s := NewService(testConfig(), backend, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Upload(context.Background(), BytesSource("x.txt", "text/plain", []byte("payload"))); err != nil {
				t.Errorf("Upload: %v", err)
			}
		}()
	}
	wg.Wait()
	if backend.calls.Load() != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls.Load())
	}
}

func TestUploadRejectsOversizedData(t *testing.T) {
	backend := &fakeBackend{}
	s := NewService(testConfig(), backend, nil)
	_, err := s.Upload(context.Background(), BytesSource("big.bin", "application/pdf", make([]byte, 2*1024*1024)))
	var upErr *Error
	if !errors.As(err, &upErr) || upErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
	if backend.calls.Load() != 0 {
		t.Fatal("oversized data must not reach the backend")
	}
}

func TestUploadPathSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("# hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewService(testConfig(), &fakeBackend{}, nil)
	att, err := s.Upload(context.Background(), PathSource(path))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if att.Name != "notes.txt" || att.ContentType != "text/plain" {
		t.Fatalf("unexpected attachment %+v", att)
	}

	_, err = s.Upload(context.Background(), PathSource(filepath.Join(dir, "missing.txt")))
	var upErr *Error
	if !errors.As(err, &upErr) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist upload error, got %v", err)
	}
}

func TestUploadAllPreservesOrder(t *testing.T) {
	s := NewService(testConfig(), &fakeBackend{}, nil)
	atts, err := s.UploadAll(context.Background(), []Source{
		BytesSource("1.txt", "text/plain", []byte("one")),
		BytesSource("2.txt", "text/plain", []byte("two")),
		BytesSource("3.txt", "text/plain", []byte("three")),
	})
	if err != nil {
		t.Fatalf("UploadAll: %v", err)
	}
	for i, want := range []string{"1.txt", "2.txt", "3.txt"} {
		if atts[i].Name != want {
			t.Fatalf("attachment %d = %s, want %s", i, atts[i].Name, want)
		}
	}

	failing := NewService(testConfig(), &fakeBackend{err: errors.New("boom")}, nil)
	if _, err = failing.UploadAll(context.Background(), []Source{BytesSource("a", "text/plain", []byte("a"))}); err == nil {
		t.Fatal("expected error from failing backend")
	}
}

func TestDataURLSource(t *testing.T) {
	raw := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	src, err := DataURLSource(raw)
	if err != nil {
		t.Fatalf("DataURLSource: %v", err)
	}
	if src.ContentType != "image/png" || string(src.Data) != "png-bytes" || filepath.Ext(src.Name) != ".png" {
		t.Fatalf("unexpected source %+v", src)
	}
	if _, err = DataURLSource("data:image/png,notbase64"); err == nil {
		t.Fatal("non-base64 data URL should be rejected")
	}
}

func TestFileURLSource(t *testing.T) {
	src, err := FileURLSource("file:///tmp/my%20file.txt")
	if err != nil {
		t.Fatalf("FileURLSource: %v", err)
	}
	if src.Path != "/tmp/my file.txt" || src.Name != "my file.txt" {
		t.Fatalf("unexpected source %+v", src)
	}
}

func TestFileRegistry(t *testing.T) {
	r := NewFileRegistry()
	a := r.Add(poe.Attachment{URL: "u1", Name: "a.txt"}, 3, "")
	b := r.Add(poe.Attachment{URL: "u2", Name: "b.txt"}, 4, "fine-tune")
	if a.ID == b.ID || a.Object != "file" || a.Purpose != "assistants" {
		t.Fatalf("unexpected file objects %+v %+v", a, b)
	}
	if got, ok := r.Get(b.ID); !ok || got.Filename != "b.txt" {
		t.Fatalf("Get(%s) = %+v, %t", b.ID, got, ok)
	}
	if !r.Delete(a.ID) || r.Delete(a.ID) {
		t.Fatal("Delete should succeed once")
	}
	list := r.List()
	if len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("List = %+v", list)
	}
}

func TestDiscardForgetsAttachment(t *testing.T) {
	backend := &fakeBackend{}
	mirror := &fakeMirror{}
	s := NewService(testConfig(), backend, mirror)
	var results []string
	s.SetObserver(func(result string) { results = append(results, result) })
	ctx := context.Background()

	att, err := s.Upload(ctx, BytesSource("a.txt", "text/plain", []byte("data")))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err = s.Upload(ctx, BytesSource("a.txt", "text/plain", []byte("data"))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	s.Discard(ctx, att)
	if len(mirror.deleted) != 1 || mirror.deleted[0] != mirror.keys[0] {
		t.Fatalf("mirror copy not deleted: put=%v deleted=%v", mirror.keys, mirror.deleted)
	}
	if _, err = s.Upload(ctx, BytesSource("a.txt", "text/plain", []byte("data"))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if backend.calls.Load() != 2 {
		t.Fatalf("discarded content should be uploaded again, backend calls = %d", backend.calls.Load())
	}
	want := []string{"uploaded", "cached", "uploaded"}
	if strings.Join(results, ",") != strings.Join(want, ",") {
		t.Fatalf("observer results = %v, want %v", results, want)
	}
}
