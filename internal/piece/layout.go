package piece

import "fmt"

// Layout 将 torrent 的 piece 映射到有序的文件列表上。
type Layout struct {
	PieceLength int
	Files       []*TorrentFile

	total int64
}

// NewLayout 依次计算每个文件的偏移与 piece 范围。文件需设置 Path 与 Length，
// 其余字段会被覆盖。
func NewLayout(pieceLength int, files []*TorrentFile) (*Layout, error) {
	if pieceLength <= 0 || pieceLength%BlockSize != 0 {
		return nil, fmt.Errorf("%w: piece length %d is not a positive multiple of %d", ErrInvalidLayout, pieceLength, BlockSize)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrInvalidLayout)
	}

	var offset int64
	pl := int64(pieceLength)
	for _, f := range files {
		if f == nil {
			return nil, fmt.Errorf("%w: nil file", ErrInvalidLayout)
		}
		if f.Length < 0 {
			return nil, fmt.Errorf("%w: negative length for %s", ErrInvalidLayout, f.Path)
		}

		f.Offset = offset
		f.StartPieceIndex = int(offset / pl)
		if f.Length == 0 {
			f.EndPieceIndex = f.StartPieceIndex
		} else {
			f.EndPieceIndex = int((offset + f.Length - 1) / pl)
		}
		offset += f.Length
	}

	if offset == 0 {
		return nil, fmt.Errorf("%w: torrent is empty", ErrInvalidLayout)
	}

	return &Layout{
		PieceLength: pieceLength,
		Files:       files,
		total:       offset,
	}, nil
}

// TotalLength 返回整个文件集的字节数。
func (l *Layout) TotalLength() int64 {
	return l.total
}

func (l *Layout) PieceCount() int {
	pl := int64(l.PieceLength)
	return int((l.total + pl - 1) / pl)
}

// PieceSize 返回 piece 大小，只有最后一个可能更短。
func (l *Layout) PieceSize(pieceIndex int) int {
	if pieceIndex < 0 || pieceIndex >= l.PieceCount() {
		return 0
	}
	left := l.total - int64(pieceIndex)*int64(l.PieceLength)
	if left < int64(l.PieceLength) {
		return int(left)
	}
	return l.PieceLength
}

func (l *Layout) BlockCount(pieceIndex int) int {
	return (l.PieceSize(pieceIndex) + BlockSize - 1) / BlockSize
}

// BlockLength 返回块大小，块不存在时为 0。
func (l *Layout) BlockLength(pieceIndex, blockIndex int) int {
	if blockIndex < 0 || blockIndex >= l.BlockCount(pieceIndex) {
		return 0
	}
	left := l.PieceSize(pieceIndex) - blockIndex*BlockSize
	if left < BlockSize {
		return left
	}
	return BlockSize
}

func (l *Layout) BlockOffset(pieceIndex, blockIndex int) int64 {
	return int64(pieceIndex)*int64(l.PieceLength) + int64(blockIndex)*BlockSize
}

// FilesInRange 返回与 [offset, offset+count) 重叠的所有非空文件。
func (l *Layout) FilesInRange(offset int64, count int) []*TorrentFile {
	end := offset + int64(count)
	var files []*TorrentFile
	for _, f := range l.Files {
		if f.Length == 0 {
			continue
		}
		if f.Offset < end && offset < f.Offset+f.Length {
			files = append(files, f)
		}
	}
	return files
}

// NewBlock 构建块请求。buf 至少需要 BlockLength 字节，并会被截取为恰好该长度。
func (l *Layout) NewBlock(pieceIndex, blockIndex int, buf []byte) (*BufferedIO, error) {
	count := l.BlockLength(pieceIndex, blockIndex)
	if count == 0 {
		return nil, fmt.Errorf("%w: piece %d block %d", ErrBlockOutOfRange, pieceIndex, blockIndex)
	}
	if len(buf) < count {
		return nil, fmt.Errorf("buffer of %d bytes too small for block of %d", len(buf), count)
	}

	offset := l.BlockOffset(pieceIndex, blockIndex)
	return &BufferedIO{
		PieceIndex: pieceIndex,
		BlockIndex: blockIndex,
		Offset:     offset,
		Count:      count,
		Buffer:     buf[:count],
		Files:      l.FilesInRange(offset, count),
	}, nil
}

// File 返回下标对应的文件，越界时返回 nil。
func (l *Layout) File(index int) *TorrentFile {
	if index < 0 || index >= len(l.Files) {
		return nil
	}
	return l.Files[index]
}
