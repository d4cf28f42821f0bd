package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"agentcore/pkg/memory"
	"agentcore/pkg/vfs"
)

const memoriesKey = "memories"

// RestoreMemories loads the session's saved /memories/ files into the persistent zone
// of fs. It returns how many files were restored.
func RestoreMemories(ctx context.Context, store *memory.Store, sessionID string, fs *vfs.FS) (int, error) {
	raw, err := store.LoadMetadata(ctx, sessionID, memoriesKey)
	if err != nil || raw == nil {
		return 0, err //nolint:wrapcheck // store errors are already descriptive
	}
	var files map[string]string
	if err := json.Unmarshal(raw, &files); err != nil {
		return 0, fmt.Errorf("corrupt memories for session %s: %w", sessionID, err)
	}
	for p, content := range files {
		if err := fs.Write(p, content, vfs.WithZone(vfs.Persistent)); err != nil {
			return 0, fmt.Errorf("failed to restore %s: %w", p, err)
		}
	}
	return len(files), nil
}

// SaveMemories stores the persistent zone of fs for the session.
func SaveMemories(ctx context.Context, store *memory.Store, sessionID string, fs *vfs.FS) error {
	return store.SaveMetadata(ctx, sessionID, memoriesKey, fs.Snapshot(vfs.Persistent)) //nolint:wrapcheck
}
