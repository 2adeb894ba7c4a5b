package runner

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractZipWritesNestedFiles(t *testing.T) {
	dest := t.TempDir()
	data := buildZip(t, map[string]string{
		"main.tf":          "resource \"null_resource\" \"x\" {}",
		"src/module/vars.tf": "variable \"x\" {}",
	})

	require.NoError(t, extractZip(data, dest))

	main, err := os.ReadFile(filepath.Join(dest, "main.tf"))
	require.NoError(t, err)
	require.Contains(t, string(main), "null_resource")

	nested, err := os.ReadFile(filepath.Join(dest, "src", "module", "vars.tf"))
	require.NoError(t, err)
	require.Contains(t, string(nested), "variable")
}

type recordingLogs struct {
	lines []string
}

func (r *recordingLogs) Append(ctx context.Context, handle facade.ExecHandle, line string) error {
	r.lines = append(r.lines, line)
	return nil
}

func (r *recordingLogs) Read(ctx context.Context, handle facade.ExecHandle, cursor string, limit int) ([]string, string, error) {
	return r.lines, cursor, nil
}

func TestLineSinkSplitsOnNewlinesAndBuffersPartialLine(t *testing.T) {
	logs := &recordingLogs{}
	rn := &Runner{logs: logs}
	sink := &lineSink{ctx: context.Background(), runner: rn, handle: "h1"}

	n, err := sink.Write([]byte("line one\nline two\npartial"))
	require.NoError(t, err)
	require.Equal(t, len("line one\nline two\npartial"), n)
	require.Equal(t, []string{"line one", "line two"}, logs.lines)

	_, err = sink.Write([]byte(" continues\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"line one", "line two", "partial continues"}, logs.lines)
}

type memObject struct {
	data map[string][]byte
}

func newMemObject() *memObject { return &memObject{data: map[string][]byte{}} }

func (m *memObject) Put(ctx context.Context, key string, data []byte) error {
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObject) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return v, nil
}

func (m *memObject) PresignedURL(ctx context.Context, key string, ttlSeconds int) (string, error) {
	return "https://example.invalid/" + key, nil
}

func TestPushAndReadOutputsRoundTrip(t *testing.T) {
	obj := newMemObject()
	r := New(obj, &recordingLogs{})

	err := r.pushOutputs(context.Background(), Config{JobID: "job-1"}, map[string]any{"bucketArn": "arn:aws:s3:::demo"})
	require.NoError(t, err)

	raw, err := obj.Get(context.Background(), "/jobs/job-1/outputs.json")
	require.NoError(t, err)
	require.Contains(t, string(raw), "bucketArn")
}
