package user

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/nyu-mlab/gemini-proxy/internal/logging"
)

// Registry answers whether an identity may start a session.
type Registry interface {
	IsValid(identity string) bool
}

// FileRegistry checks identities against a plain-text allow-list, one per line.
//
// The file is re-read on every call. Edits take effect immediately and the
// read is cheap for lists of the expected size, so there is no cache to expire.
type FileRegistry struct {
	path string
	log  *logging.Logger
}

// NewFileRegistry returns a registry backed by the allow-list at path.
func NewFileRegistry(path string, log *logging.Logger) *FileRegistry {
	return &FileRegistry{path: path, log: log.Sub("registry")}
}

// IsValid reports whether identity is listed. Blank identities are never valid,
// and a missing or unreadable list means no one is valid.
func (r *FileRegistry) IsValid(identity string) bool {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false
	}

	users, err := r.load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.log.Debug().Str("path", r.path).Msg("allow-list missing, rejecting all users")
		} else {
			r.log.Warn().Err(err).Str("path", r.path).Msg("allow-list unreadable, rejecting all users")
		}
		return false
	}

	_, ok := users[identity]
	return ok
}

// List returns the identities currently in the allow-list, sorted.
func (r *FileRegistry) List() ([]string, error) {
	users, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (r *FileRegistry) load() (map[string]struct{}, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	users := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		users[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allow-list %s: %w", r.path, err)
	}
	return users, nil
}

// MemoryRegistry implements Registry with a fixed in-memory set.
type MemoryRegistry struct {
	users map[string]struct{}
}

// NewMemoryRegistry returns a MemoryRegistry preloaded with the supplied identities.
func NewMemoryRegistry(identities ...string) *MemoryRegistry {
	users := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if id = strings.TrimSpace(id); id != "" {
			users[id] = struct{}{}
		}
	}
	return &MemoryRegistry{users: users}
}

// IsValid looks up identity in the fixed set.
func (r *MemoryRegistry) IsValid(identity string) bool {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false
	}
	_, ok := r.users[identity]
	return ok
}
