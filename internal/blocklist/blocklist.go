// Package blocklist persists the set of users banned from the bot.
//
// The set is loaded once at startup and the backing file is rewritten in
// full after every mutation, so a restart never loses a ban.
package blocklist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// List is a mutable, persisted set of blocked Telegram user ids.
type List struct {
	mu   sync.RWMutex
	path string
	ids  map[int64]struct{}
}

// Load reads the block list from path. A missing file is not an error and
// yields an empty list.
func Load(path string) (*List, error) {
	l := &List{path: path, ids: make(map[int64]struct{})}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read block list: %w", err)
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parse block list %s: %w", path, err)
	}
	for _, id := range ids {
		l.ids[id] = struct{}{}
	}
	return l, nil
}

// Contains reports whether userID is blocked.
func (l *List) Contains(userID int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[userID]
	return ok
}

// Block adds userID to the set and persists it.
func (l *List) Block(userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids[userID] = struct{}{}
	return l.save()
}

// Unblock removes userID from the set and persists it. Unblocking an
// unknown id still rewrites the file and is not an error.
func (l *List) Unblock(userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ids, userID)
	return l.save()
}

// Len returns the number of blocked users.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// save writes the full set atomically. Caller must hold l.mu.
func (l *List) save() error {
	ids := make([]int64, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode block list: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create block list dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write block list: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace block list: %w", err)
	}
	return nil
}
