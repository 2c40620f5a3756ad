package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMirrorPathPrefersWorkflowRun(t *testing.T) {
	m, err := NewMirror("/streams")
	require.NoError(t, err)

	cases := []struct {
		name          string
		workflowRunID string
		taskID        string
		typ           Type
		want          string
	}{
		{"workflow run wins", "wr1", "t1", TypeScreenshotAction, filepath.Join("/streams", "org1", "wr1.png")},
		{"task id fallback", "", "t1", TypeScreenshotFinal, filepath.Join("/streams", "org1", "t1.png")},
		{"recording extension", "wr1", "t1", TypeRecording, filepath.Join("/streams", "org1", "wr1.webm")},
		{"other extension", "", "t1", TypeOther, filepath.Join("/streams", "org1", "t1.bin")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, m.Path("org1", tc.workflowRunID, tc.taskID, tc.typ))
		})
	}
}

func TestMirrorWriteLatestOverwrites(t *testing.T) {
	root := t.TempDir()
	m, err := NewMirror(root)
	require.NoError(t, err)

	require.NoError(t, m.WriteLatest("org1", "wr1", "t1", TypeScreenshotAction, []byte("one")))
	require.NoError(t, m.WriteLatest("org1", "wr1", "t1", TypeScreenshotAction, []byte("two")))

	got, err := os.ReadFile(filepath.Join(root, "org1", "wr1.png"))
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Join(root, "org1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMirrorCopyLatestStreamsFromDisk(t *testing.T) {
	root := t.TempDir()
	m, err := NewMirror(root)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(src, []byte("frame"), 0o644))

	require.NoError(t, m.CopyLatest("org1", "", "t1", TypeScreenshotFinal, src))
	got, err := os.ReadFile(filepath.Join(root, "org1", "t1.png"))
	require.NoError(t, err)
	require.Equal(t, []byte("frame"), got)
}

func TestLiveStreamSet(t *testing.T) {
	require.True(t, TypeScreenshotAction.LiveStream())
	require.True(t, TypeScreenshotFinal.LiveStream())
	require.False(t, TypeRecording.LiveStream())
	require.False(t, TypeOther.LiveStream())
}

func TestNewMirrorRequiresRoot(t *testing.T) {
	_, err := NewMirror("")
	require.Error(t, err)
}
