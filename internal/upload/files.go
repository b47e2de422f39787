package upload

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
)

// FileObject is the OpenAI file resource for an uploaded attachment.
type FileObject struct {
	ID         string         `json:"id"`
	Object     string         `json:"object"`
	Bytes      int64          `json:"bytes"`
	CreatedAt  int64          `json:"created_at"`
	Filename   string         `json:"filename"`
	Purpose    string         `json:"purpose"`
	Status     string         `json:"status"`
	Attachment poe.Attachment `json:"-"`
}

// FileRegistry remembers uploaded files for the lifetime of the process.
type FileRegistry struct {
	mu    sync.RWMutex
	files map[string]FileObject
	order []string
}

// NewFileRegistry returns an empty registry.
func NewFileRegistry() *FileRegistry {
	return &FileRegistry{files: make(map[string]FileObject)}
}

// Add records an uploaded attachment and returns its file object.
func (r *FileRegistry) Add(att poe.Attachment, size int64, purpose string) FileObject {
	if purpose == "" {
		purpose = "assistants"
	}
	obj := FileObject{
		ID:         "file-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		Object:     "file",
		Bytes:      size,
		CreatedAt:  time.Now().Unix(),
		Filename:   att.Name,
		Purpose:    purpose,
		Status:     "processed",
		Attachment: att,
	}
	r.mu.Lock()
	r.files[obj.ID] = obj
	r.order = append(r.order, obj.ID)
	r.mu.Unlock()
	return obj
}

// Get returns the file with id.
func (r *FileRegistry) Get(id string) (FileObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.files[id]
	return obj, ok
}

// List returns all files in upload order.
func (r *FileRegistry) List() []FileObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FileObject, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.files[id])
	}
	return out
}

// Delete removes id and reports whether it existed.
func (r *FileRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return false
	}
	delete(r.files, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	return true
}
