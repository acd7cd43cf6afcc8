package media

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// Memory is an in-process BlobStore for development and tests.
type Memory struct {
	mu        sync.RWMutex
	objects   map[string]Object
	publicURL string
	// Fail, when set, is returned by Put instead of storing the object.
	Fail error
}

// NewMemory returns a Memory store whose URLs start with publicURL.
func NewMemory(publicURL string) *Memory {
	return &Memory{objects: make(map[string]Object), publicURL: strings.TrimRight(publicURL, "/")}
}

func (m *Memory) Put(ctx context.Context, obj Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return "", m.Fail
	}
	body := make([]byte, len(obj.Body))
	copy(body, obj.Body)
	obj.Body = body
	m.objects[obj.Key] = obj
	return m.publicURL + "/" + obj.Key, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Get returns a stored object.
func (m *Memory) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len reports how many objects are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Handler serves stored objects under prefix, so development uploads have
// reachable URLs without an object store.
func (m *Memory) Handler(prefix string) http.Handler {
	return http.StripPrefix(prefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		obj, ok := m.Get(strings.TrimPrefix(r.URL.Path, "/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		contentType := obj.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(obj.Body)
	}))
}
