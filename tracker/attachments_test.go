package tracker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

type failingIndex struct{}

func (failingIndex) AddAttachment(context.Context, *Attachment) error {
	return errors.New("disk full")
}

func (failingIndex) ListAttachments(context.Context, int64) ([]*Attachment, error) {
	return []*Attachment{}, nil
}

func newTestFileStore(t *testing.T, maxBytes int64) (*FileStore, *SQLiteStore, int64) {
	t.Helper()
	db := newTestStore(t)
	task, err := db.CreateTask(context.Background(), TaskPatch{Title: StringPtr("attachments")})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	files, err := NewFileStore(filepath.Join(t.TempDir(), "attachments"), "", maxBytes, db)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return files, db, task.ID
}

var storedNamePattern = regexp.MustCompile(`^[0-9]+-[A-Za-z0-9.\-_]+$`)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	files, _, taskID := newTestFileStore(t, 0)
	content := []byte("%PDF-1.4 final report")

	att, err := files.Store(ctx, taskID, Upload{
		Reader:   bytes.NewReader(content),
		Filename: "my report (final).pdf",
		Size:     int64(len(content)),
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if !storedNamePattern.MatchString(att.Filename) {
		t.Fatalf("filename = %q, want sanitized", att.Filename)
	}
	if !strings.HasSuffix(att.Filename, "-my_report__final_.pdf") {
		t.Fatalf("filename = %q, want suffix -my_report__final_.pdf", att.Filename)
	}
	if att.Size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", att.Size, len(content))
	}
	if !strings.HasPrefix(att.Path, DefaultPublicPrefix+"/") || !strings.HasSuffix(att.Path, "/"+att.Filename) {
		t.Fatalf("path = %q", att.Path)
	}
	if len(att.ID) != 12 {
		t.Fatalf("id = %q, want 12 chars", att.ID)
	}

	f, err := files.Open(att.Path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content = %q, want %q", got, content)
	}

	entries, err := os.ReadDir(filepath.Dir(f.Name()))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("task dir has %d entries, want 1 (temp files left behind?)", len(entries))
	}
}

func TestFileStoreRejectsMissingAndOversizedFiles(t *testing.T) {
	ctx := context.Background()
	files, _, taskID := newTestFileStore(t, 8)

	if _, err := files.Store(ctx, taskID, Upload{Filename: "a.txt", Size: -1}); !errors.Is(err, ErrNoFileProvided) {
		t.Fatalf("Store(nil reader) error = %v, want ErrNoFileProvided", err)
	}

	_, err := files.Store(ctx, taskID, Upload{Reader: strings.NewReader("x"), Filename: "a.txt", Size: 9})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Store(declared 9) error = %v, want ErrPayloadTooLarge", err)
	}

	_, err = files.Store(ctx, taskID, Upload{Reader: strings.NewReader("123456789"), Filename: "a.txt", Size: -1})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Store(streamed 9) error = %v, want ErrPayloadTooLarge", err)
	}

	list, err := files.List(ctx, taskID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("List() len = %d, want 0", len(list))
	}

	att, err := files.Store(ctx, taskID, Upload{Reader: strings.NewReader("12345678"), Filename: "a.txt", Size: -1})
	if err != nil {
		t.Fatalf("Store(exactly max) error = %v", err)
	}
	if att.Size != 8 {
		t.Fatalf("size = %d, want 8", att.Size)
	}
}

func TestFileStoreSameMillisecondDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	files, _, taskID := newTestFileStore(t, 0)
	files.now = fixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	first, err := files.Store(ctx, taskID, Upload{Reader: strings.NewReader("one"), Filename: "log.txt", Size: -1})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	second, err := files.Store(ctx, taskID, Upload{Reader: strings.NewReader("two"), Filename: "log.txt", Size: -1})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if first.Filename == second.Filename {
		t.Fatalf("both uploads stored as %q", first.Filename)
	}

	for _, tc := range []struct {
		att  *Attachment
		want string
	}{{first, "one"}, {second, "two"}} {
		f, err := files.Open(tc.att.Path)
		if err != nil {
			t.Fatalf("Open(%s) error = %v", tc.att.Path, err)
		}
		data, _ := io.ReadAll(f)
		_ = f.Close()
		if string(data) != tc.want {
			t.Fatalf("Open(%s) = %q, want %q", tc.att.Path, data, tc.want)
		}
	}

	list, err := files.List(ctx, taskID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("List() = %+v, want insertion order", list)
	}
}

func TestFileStoreRemovesFileWhenIndexFails(t *testing.T) {
	root := filepath.Join(t.TempDir(), "attachments")
	files, err := NewFileStore(root, "/files", 0, failingIndex{})
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	_, err = files.Store(context.Background(), 3, Upload{Reader: strings.NewReader("data"), Filename: "x.bin", Size: -1})
	if KindOf(err) != KindStorage {
		t.Fatalf("Store() error = %v, want storage failure", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "3"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("task dir has %d entries, want 0", len(entries))
	}
}

func TestFileStoreResolveRejectsTraversal(t *testing.T) {
	files, _, _ := newTestFileStore(t, 0)

	bad := []string{
		"/storage/tasks/1/../../../etc/passwd",
		"/storage/tasks/../tracker.db",
		"/storage/tasks/abc/file.txt",
		"/storage/tasks/1/.upload-123",
		"/other/1/file.txt",
		"/storage/tasks/1",
	}
	for _, p := range bad {
		if _, err := files.Resolve(p); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Resolve(%q) error = %v, want not found", p, err)
		}
	}

	if _, err := files.Resolve("/storage/tasks/1/123-ok.txt"); err != nil {
		t.Fatalf("Resolve(valid) error = %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"my report (final).pdf", "my_report__final_.pdf"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"ok-name_1.txt", "ok-name_1.txt"},
		{"résumé.doc", "r_sum_.doc"},
		{"", "file"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileStoreCancelledContext(t *testing.T) {
	files, _, taskID := newTestFileStore(t, 1024)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := files.Store(ctx, taskID, Upload{Reader: strings.NewReader("late"), Filename: "late.txt", Size: 4})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Store() error = %v, want context.Canceled", err)
	}
	if KindOf(err) != KindStorage {
		t.Fatalf("KindOf(Store() error) = %s, want %s", KindOf(err), KindStorage)
	}

	list, err := files.List(context.Background(), taskID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("List() = %v, want empty after cancelled upload", list)
	}
}
