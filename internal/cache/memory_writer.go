package cache

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/piece-cache/internal/piece"
)

// DefaultCapacity 为未指定容量时使用的默认缓冲大小（2 MiB）。
const DefaultCapacity = 2 * 1024 * 1024

var (
	// ErrWriterRequired 表示未提供被包装的 Writer。
	ErrWriterRequired = errors.New("cache: wrapped writer required")
	// ErrNegativeCapacity 表示容量为负数。
	ErrNegativeCapacity = errors.New("cache: capacity must not be negative")
	// ErrDisposed 表示 Dispose 之后仍有写入。
	ErrDisposed = errors.New("cache: writer disposed")
)

// Option 用于配置 MemoryWriter。
type Option func(*MemoryWriter)

// WithCapacity 设置缓冲的字节预算。容量按整块计算：每个缓冲请求都记为
// piece.BlockSize 字节。
func WithCapacity(capacity int) Option {
	return func(m *MemoryWriter) {
		m.capacity = capacity
	}
}

// WithLogger 设置淘汰与刷盘诊断日志使用的 logger。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *MemoryWriter) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// MemoryWriter 在另一个 Writer 之前以内存缓冲块写入。
type MemoryWriter struct {
	writer   piece.Writer
	capacity int
	logger   logrus.FieldLogger

	// buffer 按插入顺序保存待写块，最旧的在前；Read() 会按偏移重排。
	buffer   []*piece.BufferedIO
	disposed bool

	stats counters
}

// New 包装 writer；未使用 WithCapacity 时容量为 DefaultCapacity。
func New(writer piece.Writer, opts ...Option) (*MemoryWriter, error) {
	if writer == nil {
		return nil, ErrWriterRequired
	}

	m := &MemoryWriter{
		writer:   writer,
		capacity: DefaultCapacity,
		logger:   discardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.capacity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeCapacity, m.capacity)
	}

	return m, nil
}

// Capacity 返回配置的字节预算。
func (m *MemoryWriter) Capacity() int {
	return m.capacity
}

// Used 返回缓冲块占用的字节数（块数 × BlockSize）。
func (m *MemoryWriter) Used() int {
	return len(m.buffer) * piece.BlockSize
}

// Len 返回缓冲块数量。
func (m *MemoryWriter) Len() int {
	return len(m.buffer)
}

// Backend 返回被包装的 Writer。
func (m *MemoryWriter) Backend() piece.Writer {
	return m.writer
}

// Read 优先从缓冲块中读取同一 piece/block 的数据，未命中时交给被包装的 Writer。
// 缓冲块只覆盖请求的一部分时返回短读，剩余部分由调用方自行补齐。
func (m *MemoryWriter) Read(data *piece.BufferedIO) (int, error) {
	n, _, err := m.ReadCached(data)
	return n, err
}

// ReadCached 与 Read 行为一致，额外返回数据是否来自缓冲块。
func (m *MemoryWriter) ReadCached(data *piece.BufferedIO) (int, bool, error) {
	if data == nil {
		return 0, false, errors.New("cache: nil read request")
	}

	// TODO: 用 (PieceIndex, BlockIndex) 索引替换排序加线性查找，首个匹配的顺序需保持不变。
	sort.SliceStable(m.buffer, func(i, j int) bool {
		return m.buffer[i].Offset < m.buffer[j].Offset
	})

	var found *piece.BufferedIO
	for _, buffered := range m.buffer {
		if buffered.SameBlock(data) {
			found = buffered
			break
		}
	}

	if found == nil {
		return m.readBackend(data)
	}

	delta := found.Offset - data.Offset
	toCopy := min(int64(data.Count), int64(found.Count)+delta)
	if delta < 0 || toCopy <= 0 || delta+toCopy > int64(len(found.Buffer)) {
		// 与直接按首个匹配拷贝不同：窗口不重叠时视为未命中，改读后端。
		return m.readBackend(data)
	}

	n := copy(data.Buffer[:min(int(toCopy), len(data.Buffer))], found.Buffer[delta:delta+toCopy])
	data.ActualCount += n
	m.stats.hits++
	return n, true, nil
}

func (m *MemoryWriter) readBackend(data *piece.BufferedIO) (int, bool, error) {
	m.stats.misses++
	n, err := m.writer.Read(data)
	return n, false, err
}

// Write 将 data 放入缓冲。若放入后会超出容量，先把最旧的一个缓冲块写穿。
// 每次调用最多淘汰一个块，因此写入后 Used() 可能仍大于 Capacity()。
func (m *MemoryWriter) Write(data *piece.BufferedIO) error {
	return m.write(data, false)
}

// ForceWrite 绕过缓冲，直接交给被包装的 Writer。
func (m *MemoryWriter) ForceWrite(data *piece.BufferedIO) error {
	return m.write(data, true)
}

func (m *MemoryWriter) write(data *piece.BufferedIO, forceWrite bool) error {
	if data == nil {
		return errors.New("cache: nil write request")
	}

	if forceWrite {
		return m.writer.Write(data)
	}

	if m.disposed {
		return ErrDisposed
	}

	if m.Used() > m.capacity-data.Count && len(m.buffer) > 0 {
		oldest := m.buffer[0]
		m.logger.WithFields(logrus.Fields{
			"action":   "evict",
			"piece":    oldest.PieceIndex,
			"block":    oldest.BlockIndex,
			"used":     humanize.IBytes(uint64(m.Used())),
			"capacity": humanize.IBytes(uint64(m.capacity)),
		}).Debug("cache full, evicting oldest block")

		if err := m.FlushFunc(func(buffered *piece.BufferedIO) bool {
			return buffered == oldest
		}); err != nil {
			return err
		}
		m.stats.evictions++
	}

	m.buffer = append(m.buffer, data)
	return nil
}

// Close 先写穿属于 file 的缓冲块，再在被包装的 Writer 中关闭该文件。
func (m *MemoryWriter) Close(file *piece.TorrentFile) error {
	if err := m.Flush(file); err != nil {
		return err
	}
	return m.writer.Close(file)
}

// Exists 直接由被包装的 Writer 回答。
func (m *MemoryWriter) Exists(file *piece.TorrentFile) (bool, error) {
	return m.writer.Exists(file)
}

// Flush 写穿所有涉及 file 且位于其 piece 范围内的缓冲块。
func (m *MemoryWriter) Flush(file *piece.TorrentFile) error {
	if file == nil {
		return nil
	}

	return m.FlushFunc(func(buffered *piece.BufferedIO) bool {
		return buffered.HasFile(file) && file.Contains(buffered.PieceIndex)
	})
}

// FlushFunc 按缓冲顺序写穿所有满足 pred 的块，然后一次性移出缓冲。
// 任一写入失败时缓冲保持不变。
func (m *MemoryWriter) FlushFunc(pred func(*piece.BufferedIO) bool) error {
	flushed := 0
	for _, buffered := range m.buffer {
		if !pred(buffered) {
			continue
		}

		if err := m.write(buffered, true); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action": "flush",
				"piece":  buffered.PieceIndex,
				"block":  buffered.BlockIndex,
			}).Warn("write through failed")
			return err
		}
		flushed++
	}

	if flushed == 0 {
		return nil
	}

	kept := m.buffer[:0]
	for _, buffered := range m.buffer {
		if !pred(buffered) {
			kept = append(kept, buffered)
		}
	}

	// 清掉已刷盘块的引用，调用方可复用其内存。
	for idx := len(kept); idx < len(m.buffer); idx++ {
		m.buffer[idx] = nil
	}

	m.buffer = kept
	m.stats.flushed += uint64(flushed)
	return nil
}

// Move 直接交给被包装的 Writer。缓冲块按 piece/block 定位而非路径，无需刷盘。
func (m *MemoryWriter) Move(oldPath, newPath string, ignoreExisting bool) error {
	return m.writer.Move(oldPath, newPath, ignoreExisting)
}

// Dispose 写穿全部缓冲块，释放被包装的 Writer 与缓冲。
func (m *MemoryWriter) Dispose() error {
	if m.disposed {
		return nil
	}

	if err := m.FlushFunc(func(*piece.BufferedIO) bool { return true }); err != nil {
		return err
	}

	if err := m.writer.Dispose(); err != nil {
		return err
	}

	m.buffer = nil
	m.disposed = true
	return nil
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
