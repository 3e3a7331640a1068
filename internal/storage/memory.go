package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryObjects keeps objects in process. It is what the API uses when no
// object storage endpoint is configured.
type MemoryObjects struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
}

type memoryObject struct {
	data []byte
	info ObjectInfo
}

func NewMemoryObjects(baseURL string) *MemoryObjects {
	return &MemoryObjects{baseURL: baseURL, objects: make(map[string]memoryObject)}
}

func (m *MemoryObjects) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) (ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("put %s: %w", key, err)
	}
	info := ObjectInfo{Key: key, Size: int64(len(data)), ContentType: contentType, LastModified: time.Now().UTC()}

	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, info: info}
	m.mu.Unlock()
	return info, nil
}

func (m *MemoryObjects) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return obj.info, nil
}

func (m *MemoryObjects) URL(key string) string {
	return m.baseURL + "/" + key
}

// Open returns the stored bytes of key.
func (m *MemoryObjects) Open(key string) (io.Reader, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return bytes.NewReader(obj.data), true
}
