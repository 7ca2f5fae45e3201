package piece

import "fmt"

// BlockSize 是请求与缓冲 piece 数据的单位（16 KiB）。
const BlockSize = 16 * 1024

// TorrentFile 是 torrent 文件集中的一个文件。
type TorrentFile struct {
	// Path 相对于该 torrent 的存储根目录。
	Path   string
	Length int64

	// Offset 是文件首字节在拼接后文件集中的绝对位置。
	Offset int64

	// StartPieceIndex 与 EndPieceIndex 为涉及该文件的首尾 piece（闭区间）。
	StartPieceIndex int
	EndPieceIndex   int
}

func (f *TorrentFile) String() string {
	return fmt.Sprintf("%s [%d+%d, pieces %d-%d]", f.Path, f.Offset, f.Length, f.StartPieceIndex, f.EndPieceIndex)
}

// Contains 判断 piece 下标是否落在文件的 piece 范围内。
func (f *TorrentFile) Contains(pieceIndex int) bool {
	return pieceIndex >= f.StartPieceIndex && pieceIndex <= f.EndPieceIndex
}

// BufferedIO 表示一次块请求，读写共用。
//
// Buffer 不归请求所有：它引用调用方内存，在 Writer 消费之前不得改动。
type BufferedIO struct {
	PieceIndex int
	BlockIndex int

	// Offset 是块在文件集中的绝对偏移。
	Offset int64

	// Count 为请求字节数，ActualCount 为读取目前已满足的字节数。
	Count       int
	ActualCount int

	Buffer []byte
	Files  []*TorrentFile
}

// HasFile 判断块是否引用了 file（按指针比较）。
func (b *BufferedIO) HasFile(file *TorrentFile) bool {
	for _, f := range b.Files {
		if f == file {
			return true
		}
	}
	return false
}

// SameBlock 判断两个请求是否指向同一 piece/block。
func (b *BufferedIO) SameBlock(other *BufferedIO) bool {
	return b.PieceIndex == other.PieceIndex && b.BlockIndex == other.BlockIndex
}

func (b *BufferedIO) String() string {
	return fmt.Sprintf("<block %d/%d @%d +%d>", b.PieceIndex, b.BlockIndex, b.Offset, b.Count)
}
