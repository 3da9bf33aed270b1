package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MaxAvatarBytes bounds an uploaded profile picture.
const MaxAvatarBytes = 5 << 20

var avatarTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// AvatarExtension returns the file extension for an accepted image content
// type, or false.
func AvatarExtension(contentType string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := avatarTypes[ct]
	return ext, ok
}

// AvatarPrefix is the object prefix holding every picture of a user.
func AvatarPrefix(userID string) string { return "avatars/" + userID + "/" }

// AvatarKey returns a fresh object key so a new upload never serves a cached
// old picture.
func AvatarKey(userID, ext string) string {
	return AvatarPrefix(userID) + uuid.NewString() + "." + ext
}

// Avatars is what the profile handlers need from object storage.
type Avatars interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	RemovePrefix(ctx context.Context, prefix string) error
}

// MemoryAvatars keeps objects in memory. URLs use the memory:// scheme.
type MemoryAvatars struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryAvatars() *MemoryAvatars {
	return &MemoryAvatars{objects: map[string][]byte{}}
}

func (m *MemoryAvatars) Put(_ context.Context, key string, r io.Reader, size int64, _ string) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return "", err
	}
	if int64(len(b)) != size {
		return "", fmt.Errorf("put %s: got %d bytes, want %d", key, len(b), size)
	}
	m.mu.Lock()
	m.objects[key] = b
	m.mu.Unlock()
	return "memory://" + key, nil
}

func (m *MemoryAvatars) RemovePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	return nil
}

// Keys lists stored object keys.
func (m *MemoryAvatars) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}
