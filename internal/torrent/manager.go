package torrent

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/piece-cache/internal/cache"
	"github.com/any-hub/piece-cache/internal/logging"
	"github.com/any-hub/piece-cache/internal/piece"
)

var (
	// ErrClosed 表示 Close 之后的任何调用。
	ErrClosed = errors.New("torrent closed")
	// ErrBlockLength 表示写入数据长度与块大小不符。
	ErrBlockLength = errors.New("block length mismatch")
	// ErrFileNotFound 表示文件下标超出布局范围。
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidPath 表示 MoveFile 的目标路径不可用。
	ErrInvalidPath = errors.New("invalid file path")
	// ErrPathInUse 表示 MoveFile 的目标路径与同一 torrent 的其他文件冲突。
	ErrPathInUse = errors.New("path used by another file")
)

// backender 由包装了其他 Writer 的实现提供。
type backender interface {
	Backend() piece.Writer
}

// statser 由维护缓存统计的 Writer 提供。
type statser interface {
	Stats() cache.Stats
}

// cachedReader 由能报告本次读取是否命中缓冲的 Writer 提供。
type cachedReader interface {
	ReadCached(data *piece.BufferedIO) (int, bool, error)
}

// ReadResult 是 ReadBlock 的结果。
type ReadResult struct {
	// Data 为实际读到的字节，最多一个块。
	Data []byte
	// Cached 表示数据来自内存缓存。
	Cached bool
}

// Stats 描述单个 torrent，供诊断接口输出。
type Stats struct {
	Name        string      `json:"name"`
	PieceLength int         `json:"piece_length"`
	Pieces      int         `json:"pieces"`
	Files       int         `json:"files"`
	TotalLength int64       `json:"total_length"`
	Cache       cache.Stats `json:"cache"`
}

// Manager 串行化对单个 torrent 写入链的访问，写入链本身按单线程使用。
type Manager struct {
	name   string
	layout *piece.Layout
	logger *logrus.Entry

	mu     sync.Mutex
	writer piece.Writer
	closed bool
}

// NewManager 接管 writer 的所有权，Close 时将其释放。
func NewManager(name string, layout *piece.Layout, writer piece.Writer, logger logrus.FieldLogger) (*Manager, error) {
	if layout == nil {
		return nil, errors.New("layout is required")
	}
	if writer == nil {
		return nil, errors.New("writer is required")
	}

	return &Manager{
		name:   name,
		layout: layout,
		writer: writer,
		logger: logging.ForTorrent(logger, name),
	}, nil
}

// Name 返回 torrent 名称。
func (m *Manager) Name() string {
	return m.name
}

// Layout 返回 piece 布局，调用方不得修改。
func (m *Manager) Layout() *piece.Layout {
	return m.layout
}

// WriteBlock 写入一个块。data 长度必须与块长度一致；数据会被复制，
// 返回后调用方可复用 data。
func (m *Manager) WriteBlock(pieceIndex, blockIndex int, data []byte) error {
	count := m.layout.BlockLength(pieceIndex, blockIndex)
	if count == 0 {
		return fmt.Errorf("%w: piece %d block %d", piece.ErrBlockOutOfRange, pieceIndex, blockIndex)
	}
	if len(data) != count {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrBlockLength, len(data), count)
	}

	req, err := m.layout.NewBlock(pieceIndex, blockIndex, append([]byte(nil), data...))
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if err := m.writer.Write(req); err != nil {
		return fmt.Errorf("write piece %d block %d: %w", pieceIndex, blockIndex, err)
	}
	return nil
}

// ReadBlock 读取一个块；缓存只命中部分数据时，剩余部分从后端补齐。
func (m *Manager) ReadBlock(pieceIndex, blockIndex int) (ReadResult, error) {
	req, err := m.layout.NewBlock(pieceIndex, blockIndex, make([]byte, piece.BlockSize))
	if err != nil {
		return ReadResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ReadResult{}, ErrClosed
	}

	n, cached, err := m.read(req)
	if err != nil {
		return ReadResult{}, fmt.Errorf("read piece %d block %d: %w", pieceIndex, blockIndex, err)
	}

	if cached && n < req.Count {
		if err := m.readRemainder(req, n); err != nil {
			return ReadResult{}, err
		}
	}

	return ReadResult{
		Data:   req.Buffer[:req.ActualCount],
		Cached: cached,
	}, nil
}

func (m *Manager) readRemainder(req *piece.BufferedIO, n int) error {
	b, ok := m.writer.(backender)
	if !ok {
		return nil
	}

	offset := req.Offset + int64(n)
	rest := &piece.BufferedIO{
		PieceIndex: req.PieceIndex,
		BlockIndex: req.BlockIndex,
		Offset:     offset,
		Count:      req.Count - n,
		Buffer:     req.Buffer[n:req.Count],
		Files:      m.layout.FilesInRange(offset, req.Count-n),
	}

	got, err := b.Backend().Read(rest)
	if err != nil {
		return fmt.Errorf("read remainder of piece %d block %d: %w", req.PieceIndex, req.BlockIndex, err)
	}

	m.logger.WithFields(logrus.Fields{
		"action": "stitch",
		"piece":  req.PieceIndex,
		"block":  req.BlockIndex,
		"cached": n,
		"disk":   got,
	}).Debug("partial cache hit completed from disk")

	req.ActualCount += got
	return nil
}

func (m *Manager) read(req *piece.BufferedIO) (int, bool, error) {
	if r, ok := m.writer.(cachedReader); ok {
		return r.ReadCached(req)
	}
	n, err := m.writer.Read(req)
	return n, false, err
}

// FlushFile 写穿该文件的缓冲块并同步到磁盘。
func (m *Manager) FlushFile(index int) error {
	return m.withFile(index, func(file *piece.TorrentFile) error {
		return m.flushFile(file)
	})
}

// Flush 对 torrent 的所有文件执行 FlushFile。
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, file := range m.layout.Files {
		if err := m.flushFile(file); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) flushFile(file *piece.TorrentFile) error {
	if err := m.writer.Flush(file); err != nil {
		return fmt.Errorf("flush %s: %w", file.Path, err)
	}

	if b, ok := m.writer.(backender); ok {
		if err := b.Backend().Flush(file); err != nil {
			return fmt.Errorf("sync %s: %w", file.Path, err)
		}
	}
	return nil
}

// CloseFile 刷盘并关闭单个文件；torrent 仍可继续使用，后续写入会重新打开文件。
func (m *Manager) CloseFile(index int) error {
	return m.withFile(index, func(file *piece.TorrentFile) error {
		if err := m.writer.Close(file); err != nil {
			return fmt.Errorf("close %s: %w", file.Path, err)
		}
		return nil
	})
}

// FileExists 报告文件是否已存在于存储中。
func (m *Manager) FileExists(index int) (bool, error) {
	var exists bool
	err := m.withFile(index, func(file *piece.TorrentFile) error {
		var err error
		exists, err = m.writer.Exists(file)
		return err
	})
	return exists, err
}

// MoveFile 在存储中重命名文件，成功后更新布局。缓冲块引用的是文件本身而非路径，
// 因此会随文件一起迁移。目标路径不能与其他文件重合或互为父目录。
func (m *Manager) MoveFile(index int, newPath string, ignoreExisting bool) error {
	cleaned, err := cleanRelativePath(newPath)
	if err != nil {
		return err
	}

	return m.withFile(index, func(file *piece.TorrentFile) error {
		if err := m.checkPathFree(file, cleaned); err != nil {
			return err
		}

		oldPath := file.Path
		if err := m.writer.Move(oldPath, cleaned, ignoreExisting); err != nil {
			return fmt.Errorf("move %s: %w", oldPath, err)
		}
		file.Path = cleaned

		m.logger.WithFields(logrus.Fields{
			"action": "move",
			"from":   oldPath,
			"to":     cleaned,
		}).Info("file moved")
		return nil
	})
}

// Stats 返回布局信息；写入链带缓存时附带缓存统计。
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Name:        m.name,
		PieceLength: m.layout.PieceLength,
		Pieces:      m.layout.PieceCount(),
		Files:       len(m.layout.Files),
		TotalLength: m.layout.TotalLength(),
	}
	if s, ok := m.writer.(statser); ok && !m.closed {
		stats.Cache = s.Stats()
	}
	return stats
}

// Close 先写穿全部缓冲块，再释放写入链。
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	if err := m.writer.Dispose(); err != nil {
		return fmt.Errorf("dispose %s: %w", m.name, err)
	}

	m.closed = true
	m.logger.WithField("action", "close").Info("torrent closed")
	return nil
}

func (m *Manager) withFile(index int, fn func(file *piece.TorrentFile) error) error {
	file := m.layout.File(index)
	if file == nil {
		return fmt.Errorf("%w: index %d", ErrFileNotFound, index)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return fn(file)
}

// checkPathFree 拒绝与其他文件相同、或与其他文件互为父子目录的目标路径。
func (m *Manager) checkPathFree(file *piece.TorrentFile, target string) error {
	for _, other := range m.layout.Files {
		if other == file {
			continue
		}
		otherPath := path.Clean(other.Path)
		if otherPath == target ||
			strings.HasPrefix(otherPath, target+"/") ||
			strings.HasPrefix(target, otherPath+"/") {
			return fmt.Errorf("%w: %q conflicts with %q", ErrPathInUse, target, other.Path)
		}
	}
	return nil
}

func cleanRelativePath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, `\`) || path.IsAbs(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	for _, part := range strings.Split(raw, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, raw)
		}
	}
	cleaned := path.Clean(raw)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	return cleaned, nil
}
