package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxUploadBytes 默认单文件上传上限 10 MiB
	DefaultMaxUploadBytes int64 = 10 << 20
	// DefaultPublicPrefix 附件公开路径前缀
	DefaultPublicPrefix = "/storage/tasks"

	maxNameAttempts = 1000
	tempPattern     = ".upload-*"
)

// FileStore 将附件写入按任务划分的目录，并通过 AttachmentIndex 记录元数据
type FileStore struct {
	root         string
	publicPrefix string
	maxBytes     int64
	index        AttachmentIndex
	now          func() time.Time
}

var _ AttachmentStore = (*FileStore)(nil)

// NewFileStore 创建附件存储
func NewFileStore(root, publicPrefix string, maxBytes int64, index AttachmentIndex) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("attachments dir is required")
	}
	if index == nil {
		return nil, fmt.Errorf("attachment index is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	publicPrefix = "/" + strings.Trim(strings.TrimSpace(publicPrefix), "/")
	if publicPrefix == "/" {
		publicPrefix = DefaultPublicPrefix
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachments dir: %w", err)
	}
	return &FileStore{
		root:         root,
		publicPrefix: publicPrefix,
		maxBytes:     maxBytes,
		index:        index,
		now:          time.Now,
	}, nil
}

// MaxBytes returns the per-file upload limit.
func (s *FileStore) MaxBytes() int64 {
	return s.maxBytes
}

// PublicPrefix returns the URL prefix of stored attachments.
func (s *FileStore) PublicPrefix() string {
	return s.publicPrefix
}

// Store 保存上传文件。文件先写入临时文件并 fsync，再以硬链接发布到最终文件名，
// 读者不会看到写了一半的内容。
func (s *FileStore) Store(ctx context.Context, taskID int64, upload Upload) (*Attachment, error) {
	if upload.Reader == nil {
		return nil, ErrNoFileProvided
	}
	if upload.Size > s.maxBytes {
		return nil, ErrPayloadTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, storageErr("upload aborted", err)
	}

	dir := s.taskDir(taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("failed to create task attachment dir", err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return nil, storageErr("failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	written, err := io.Copy(tmp, io.LimitReader(upload.Reader, s.maxBytes+1))
	if err != nil {
		_ = tmp.Close()
		return nil, storageErr("failed to write attachment", err)
	}
	if written > s.maxBytes {
		_ = tmp.Close()
		return nil, ErrPayloadTooLarge
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return nil, storageErr("failed to sync attachment", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, storageErr("failed to close attachment", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, storageErr("upload aborted", err)
	}

	now := msTime(s.now())
	filename, finalPath, err := s.publish(tmpPath, dir, now, SanitizeFilename(upload.Filename))
	if err != nil {
		return nil, err
	}

	att := &Attachment{
		ID:        newShortID(),
		TaskID:    taskID,
		Filename:  filename,
		Path:      s.publicPath(taskID, filename),
		Size:      written,
		CreatedAt: now,
	}
	if err := s.index.AddAttachment(ctx, att); err != nil {
		_ = os.Remove(finalPath)
		if KindOf(err) == KindStorage {
			return nil, err
		}
		return nil, storageErr("failed to record attachment", err)
	}
	return att, nil
}

// publish links the temp file to `<ms>-<name>`, bumping the token while the name is taken.
func (s *FileStore) publish(tmpPath, dir string, now time.Time, name string) (string, string, error) {
	token := now.UnixMilli()
	for i := 0; i < maxNameAttempts; i++ {
		filename := strconv.FormatInt(token+int64(i), 10) + "-" + name
		finalPath := filepath.Join(dir, filename)
		err := os.Link(tmpPath, finalPath)
		if err == nil {
			return filename, finalPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", storageErr("failed to publish attachment", err)
		}
	}
	return "", "", storageErr("failed to publish attachment", fmt.Errorf("no free file name for %s", name))
}

// List 列出任务附件
func (s *FileStore) List(ctx context.Context, taskID int64) ([]*Attachment, error) {
	return s.index.ListAttachments(ctx, taskID)
}

// Open resolves a public attachment path back to the stored file.
func (s *FileStore) Open(publicPath string) (*os.File, error) {
	local, err := s.Resolve(publicPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(local)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Kind: KindNotFound, Message: "attachment not found", Err: err}
		}
		return nil, storageErr("failed to open attachment", err)
	}
	return f, nil
}

// Resolve maps `<prefix>/<task_id>/<filename>` to its location on disk.
func (s *FileStore) Resolve(publicPath string) (string, error) {
	notFound := &Error{Kind: KindNotFound, Message: "attachment not found: " + publicPath}

	rest, ok := strings.CutPrefix(path.Clean("/"+publicPath), s.publicPrefix+"/")
	if !ok {
		return "", notFound
	}
	taskPart, filename, ok := strings.Cut(rest, "/")
	if !ok || filename == "" || strings.Contains(filename, "/") || strings.HasPrefix(filename, ".") {
		return "", notFound
	}
	taskID, err := strconv.ParseInt(taskPart, 10, 64)
	if err != nil || taskID <= 0 {
		return "", notFound
	}
	return filepath.Join(s.taskDir(taskID), filename), nil
}

func (s *FileStore) taskDir(taskID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(taskID, 10))
}

func (s *FileStore) publicPath(taskID int64, filename string) string {
	return s.publicPrefix + "/" + strconv.FormatInt(taskID, 10) + "/" + filename
}

// SanitizeFilename 将 [A-Za-z0-9.-_] 之外的字符替换为 _
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "file"
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
