package piece

import "errors"

var (
	// ErrBlockOutOfRange 表示 piece 或块下标超出布局。
	ErrBlockOutOfRange = errors.New("block out of range")
	// ErrInvalidLayout 表示无法根据文件列表构建布局。
	ErrInvalidLayout = errors.New("invalid piece layout")
)

// Writer 负责块的持久化与读取。实现可以叠加：缓存 Writer 包装另一个 Writer
// 并暴露相同的契约。
type Writer interface {
	// Read 向 data.Buffer 拷贝至多 data.Count 字节，累加 data.ActualCount
	// 并返回拷贝字节数；短读不视为错误。
	Read(data *BufferedIO) (int, error)

	// Write 将 data.Buffer[:data.Count] 写到 data.Offset。
	Write(data *BufferedIO) error

	// Close 释放 file 占用的资源，缓冲数据先写出。
	Close(file *TorrentFile) error

	Exists(file *TorrentFile) (bool, error)

	// Flush 将 file 的待写数据推给下一层。
	Flush(file *TorrentFile) error

	// Move 将 oldPath 重命名为 newPath。ignoreExisting 为 true 时覆盖已存在的
	// newPath，否则返回错误。
	Move(oldPath, newPath string, ignoreExisting bool) error

	// Dispose 写出全部数据并永久释放 Writer。
	Dispose() error
}
