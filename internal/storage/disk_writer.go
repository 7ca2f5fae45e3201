package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/piece-cache/internal/piece"
)

var (
	// ErrInvalidPath 表示路径逃逸出存储根目录。
	ErrInvalidPath = errors.New("invalid storage path")
	// ErrDestinationExists 表示 Move 的目标已存在。
	ErrDestinationExists = errors.New("move destination exists")
	// ErrDisposed 表示 Dispose 之后的调用。
	ErrDisposed = errors.New("disk writer disposed")
)

// Option 用于配置 DiskWriter。
type Option func(*DiskWriter)

// WithLogger 设置文件句柄管理的诊断 logger。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(w *DiskWriter) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// DiskWriter 直接在文件系统上读写块。
type DiskWriter struct {
	root   string
	logger logrus.FieldLogger

	mu       sync.Mutex
	handles  map[string]*os.File
	disposed bool
}

// NewDiskWriter 以 root 为根目录创建 Writer，目录不存在时自动创建。
func NewDiskWriter(root string, opts ...Option) (*DiskWriter, error) {
	if root == "" {
		return nil, errors.New("storage root required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	w := &DiskWriter{
		root:    abs,
		logger:  logger,
		handles: make(map[string]*os.File),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root 返回存储根目录的绝对路径。
func (w *DiskWriter) Root() string {
	return w.root
}

// Read 从块涉及的每个文件读取数据；文件缺失或超出文件末尾时返回短读。
func (w *DiskWriter) Read(data *piece.BufferedIO) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disposed {
		return 0, ErrDisposed
	}

	total := 0
	err := eachSegment(data, func(file *piece.TorrentFile, fileOff int64, buf []byte) error {
		f, err := w.handle(file.Path, false)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}

		n, err := f.ReadAt(buf, fileOff)
		total += n
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", file.Path, err)
		}
		return nil
	})

	data.ActualCount += total
	return total, err
}

// Write 将 data.Buffer[:data.Count] 分段写入涉及的文件。
func (w *DiskWriter) Write(data *piece.BufferedIO) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disposed {
		return ErrDisposed
	}

	return eachSegment(data, func(file *piece.TorrentFile, fileOff int64, buf []byte) error {
		f, err := w.handle(file.Path, true)
		if err != nil {
			return err
		}

		if _, err := f.WriteAt(buf, fileOff); err != nil {
			return fmt.Errorf("write %s: %w", file.Path, err)
		}
		return nil
	})
}

// Close 关闭 file 的缓存句柄（如有）。
func (w *DiskWriter) Close(file *piece.TorrentFile) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.closeHandle(file.Path)
}

// Exists 判断文件是否已存在于磁盘。
func (w *DiskWriter) Exists(file *piece.TorrentFile) (bool, error) {
	filePath, err := w.path(file.Path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// Flush 将 file 已打开的句柄 fsync 到磁盘。
func (w *DiskWriter) Flush(file *piece.TorrentFile) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	filePath, err := w.path(file.Path)
	if err != nil {
		return err
	}

	f, ok := w.handles[filePath]
	if !ok {
		return nil
	}
	return f.Sync()
}

// Move 将 oldPath 重命名为 newPath（均相对于根目录），先关闭两者的已打开句柄。
// 源文件尚不存在时只检查目标。
func (w *DiskWriter) Move(oldPath, newPath string, ignoreExisting bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	src, err := w.path(oldPath)
	if err != nil {
		return err
	}
	dst, err := w.path(newPath)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}

	if err := w.closeHandle(oldPath); err != nil {
		return err
	}
	if err := w.closeHandle(newPath); err != nil {
		return err
	}

	if _, err := os.Stat(dst); err == nil {
		if !ignoreExisting {
			return fmt.Errorf("%w: %s", ErrDestinationExists, newPath)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		// 尚未写入任何数据，文件之后会直接在 newPath 创建。
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	if err := atomic.ReplaceFile(src, dst); err != nil {
		return fmt.Errorf("move %s: %w", oldPath, err)
	}

	w.logger.WithFields(logrus.Fields{
		"action": "move",
		"from":   oldPath,
		"to":     newPath,
	}).Debug("file moved")
	return nil
}

// Dispose 关闭全部缓存句柄，返回遇到的第一个错误。
func (w *DiskWriter) Dispose() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disposed {
		return nil
	}

	var firstErr error
	for filePath, f := range w.handles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", filePath, err)
		}
		delete(w.handles, filePath)
	}

	w.disposed = true
	return firstErr
}

// handle 返回 rel 的缓存句柄，必要时打开；create 为 false 且文件缺失时返回 fs.ErrNotExist。
func (w *DiskWriter) handle(rel string, create bool) (*os.File, error) {
	filePath, err := w.path(rel)
	if err != nil {
		return nil, err
	}

	if f, ok := w.handles[filePath]; ok {
		return f, nil
	}

	if !create {
		if _, err := os.Stat(filePath); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	w.handles[filePath] = f
	return f, nil
}

func (w *DiskWriter) closeHandle(rel string) error {
	filePath, err := w.path(rel)
	if err != nil {
		return err
	}

	f, ok := w.handles[filePath]
	if !ok {
		return nil
	}

	delete(w.handles, filePath)
	return f.Close()
}

func (w *DiskWriter) path(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	cleaned := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}

	filePath := filepath.Join(w.root, filepath.FromSlash(cleaned))
	if !strings.HasPrefix(filePath, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	return filePath, nil
}

// eachSegment 按文件切分 data，并以文件内偏移与对应的缓冲切片回调 fn。
func eachSegment(data *piece.BufferedIO, fn func(file *piece.TorrentFile, fileOff int64, buf []byte) error) error {
	start := data.Offset
	end := data.Offset + int64(data.Count)

	for _, file := range data.Files {
		lo := max(start, file.Offset)
		hi := min(end, file.Offset+file.Length)
		if lo >= hi {
			continue
		}

		buf := data.Buffer[lo-start : hi-start]
		if err := fn(file, lo-file.Offset, buf); err != nil {
			return err
		}
	}
	return nil
}
