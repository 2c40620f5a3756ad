package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Mirror maintains the local live-stream copies of screenshot artifacts.
// Each run or task has a single mirror file holding its latest screenshot;
// writes overwrite, never append, so a poller reading the path always sees
// the most recent frame. A stale overwrite from an out-of-order upload is
// tolerated: the mirror is a best-effort live view, not a durable record.
type Mirror struct {
	root string
}

// NewMirror returns a Mirror rooted at the given directory.
func NewMirror(root string) (*Mirror, error) {
	if root == "" {
		return nil, fmt.Errorf("mirror root is required")
	}
	return &Mirror{root: root}, nil
}

// Path returns the deterministic mirror location for the run or task:
// {root}/{org}/{workflowRunID|taskID}.{ext}. The workflow run takes
// precedence; the task ID is the fallback when no workflow run is involved.
func (m *Mirror) Path(orgID, workflowRunID, taskID string, typ Type) string {
	key := workflowRunID
	if key == "" {
		key = taskID
	}
	return filepath.Join(m.root, orgID, key+"."+typ.Extension())
}

// WriteLatest replaces the mirror file with the given payload. The write
// goes through a temp file and a rename so a concurrent reader never
// observes a torn frame.
func (m *Mirror) WriteLatest(orgID, workflowRunID, taskID string, typ Type, data []byte) error {
	dst := m.Path(orgID, workflowRunID, taskID, typ)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create mirror dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("create mirror temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write mirror temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close mirror temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace mirror file: %w", err)
	}
	return nil
}

// CopyLatest is WriteLatest for payloads already on local disk; the source
// file is streamed rather than loaded into memory.
func (m *Mirror) CopyLatest(orgID, workflowRunID, taskID string, typ Type, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mirror source: %w", err)
	}
	defer src.Close()
	dst := m.Path(orgID, workflowRunID, taskID, typ)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create mirror dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("create mirror temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("copy mirror source: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close mirror temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace mirror file: %w", err)
	}
	return nil
}
