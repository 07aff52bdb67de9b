package kanban

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/openfleet/bosun/internal/store"
	"github.com/openfleet/bosun/internal/util"
)

// cursorKey is the shared-state key the sync cursor lives under.
const cursorKey = "kanban:cursor"

// Cursor persists the last successful sync watermark so restarts resume
// instead of re-walking the whole board.
type Cursor interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, value string) error
}

// StoreCursor keeps the cursor in the task store's shared state. This is
// the default: it travels with tasks.db and survives config dir moves.
type StoreCursor struct {
	Store *store.Store
}

func (c *StoreCursor) Load(ctx context.Context) (string, error) {
	return c.Store.GetSharedState(ctx, cursorKey)
}

func (c *StoreCursor) Save(ctx context.Context, value string) error {
	return c.Store.SetSharedState(ctx, cursorKey, value)
}

// FileCursor keeps the cursor in a JSON file under the config directory.
// Used when the store lives on a remote dialect and sync state should stay
// local to the host.
type FileCursor struct {
	Path string
}

type fileCursorState struct {
	Cursor string `json:"cursor"`
}

func (c *FileCursor) Load(ctx context.Context) (string, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read cursor file: %w", err)
	}
	var st fileCursorState
	if err := json.Unmarshal(data, &st); err != nil {
		// A corrupt cursor only costs a full re-walk.
		return "", nil
	}
	return st.Cursor, nil
}

func (c *FileCursor) Save(ctx context.Context, value string) error {
	data, err := json.MarshalIndent(fileCursorState{Cursor: value}, "", "  ")
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(c.Path, data, 0o644); err != nil {
		return fmt.Errorf("write cursor file: %w", err)
	}
	return nil
}

// MemoryCursor holds the cursor for the process lifetime only. Used by
// one-shot CLI syncs where persistence buys nothing.
type MemoryCursor struct {
	mu    sync.Mutex
	value string
}

func (c *MemoryCursor) Load(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

func (c *MemoryCursor) Save(ctx context.Context, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	return nil
}
