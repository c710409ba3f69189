package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	objects []string
	err     error
}

func (m *recordingMirror) Upload(ctx context.Context, localPath, objectName string) error {
	if m.err != nil {
		return m.err
	}
	m.objects = append(m.objects, objectName)
	return nil
}

func TestWriteCreatesTimestampedArtifact(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	path, err := store.Write(context.Background(), "reports", "bank_processing_report", ".txt", []byte("ok"))
	require.NoError(t, err)

	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "bank_processing_report_"))
	assert.True(t, strings.HasSuffix(base, ".txt"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(content))
}

func TestWriteNamedMirrors(t *testing.T) {
	mirror := &recordingMirror{}
	store := NewStore(t.TempDir(), mirror)

	_, err := store.WriteNamed(context.Background(), "seed", "invoice_seed_202401.csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"seed/invoice_seed_202401.csv"}, mirror.objects)
}

func TestMirrorFailureDoesNotFailWrite(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("bucket unreachable")}
	store := NewStore(t.TempDir(), mirror)

	path, err := store.WriteNamed(context.Background(), "seed", "invoice_seed_202401.csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestLatestPicksNewestTimestamp(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"processed_bank_txn_20240131_090000.csv",
		"processed_bank_txn_20240131_120000.csv",
		"processed_bank_txn_20240130_235959.csv",
		"bank_processing_report_20240131_130000.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	path, err := Latest(dir, "processed_bank_txn_", ".csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "processed_bank_txn_20240131_120000.csv"), path)
}

func TestLatestEmptyDirFails(t *testing.T) {
	_, err := Latest(t.TempDir(), "processed_bank_txn_", ".csv")
	require.Error(t, err)
}
