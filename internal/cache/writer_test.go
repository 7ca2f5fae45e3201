package cache

import (
	"errors"
	"fmt"

	"github.com/any-hub/piece-cache/internal/piece"
)

// recordingWriter is an in-memory piece.Writer that remembers every call.
type recordingWriter struct {
	data     map[string][]byte
	writes   []*piece.BufferedIO
	reads    int
	closed   []*piece.TorrentFile
	flushed  []*piece.TorrentFile
	moves    []string
	existing map[*piece.TorrentFile]bool
	disposed int

	// failWriteAt makes the n-th write (1-based) fail.
	failWriteAt int
}

var errInjected = errors.New("injected write failure")

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{
		data:     make(map[string][]byte),
		existing: make(map[*piece.TorrentFile]bool),
	}
}

func blockKey(pieceIndex, blockIndex int) string {
	return fmt.Sprintf("%d/%d", pieceIndex, blockIndex)
}

func (w *recordingWriter) Read(data *piece.BufferedIO) (int, error) {
	w.reads++
	stored, ok := w.data[blockKey(data.PieceIndex, data.BlockIndex)]
	if !ok {
		return 0, nil
	}
	n := copy(data.Buffer[:data.Count], stored)
	data.ActualCount += n
	return n, nil
}

func (w *recordingWriter) Write(data *piece.BufferedIO) error {
	if w.failWriteAt > 0 && len(w.writes)+1 == w.failWriteAt {
		w.failWriteAt = 0
		return errInjected
	}
	w.writes = append(w.writes, data)
	w.data[blockKey(data.PieceIndex, data.BlockIndex)] = append([]byte(nil), data.Buffer[:data.Count]...)
	return nil
}

func (w *recordingWriter) Close(file *piece.TorrentFile) error {
	w.closed = append(w.closed, file)
	return nil
}

func (w *recordingWriter) Exists(file *piece.TorrentFile) (bool, error) {
	return w.existing[file], nil
}

func (w *recordingWriter) Flush(file *piece.TorrentFile) error {
	w.flushed = append(w.flushed, file)
	return nil
}

func (w *recordingWriter) Move(oldPath, newPath string, ignoreExisting bool) error {
	w.moves = append(w.moves, fmt.Sprintf("%s->%s:%t", oldPath, newPath, ignoreExisting))
	return nil
}

func (w *recordingWriter) Dispose() error {
	w.disposed++
	return nil
}

// writeCount returns how often the block was handed to the writer.
func (w *recordingWriter) writeCount(pieceIndex, blockIndex int) int {
	count := 0
	for _, write := range w.writes {
		if write.PieceIndex == pieceIndex && write.BlockIndex == blockIndex {
			count++
		}
	}
	return count
}
