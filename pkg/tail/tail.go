// Package tail extracts the last lines of a file by scanning backward from
// its end in fixed-size chunks, so the cost depends on the size of the tail
// rather than the size of the file.
//
// Example usage:
//
//	snap, err := tail.ReadLast(ctx, "/var/log/app.log", 10, tail.DefaultChunkSize)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(strings.Join(snap.Lines, "\n"))
//	// snap.Anchor is where an incremental reader continues.
package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultChunkSize is used when ReadLast is given a non-positive chunk size.
const DefaultChunkSize = 8192

// Snapshot is the result of a backward scan.
type Snapshot struct {
	// Lines are the last lines of the file in file order, without separators.
	Lines []string

	// Anchor is the file size observed when the scan started. Bytes beyond
	// it were not examined.
	Anchor int64

	// Partial reports that the last line has no terminating newline yet, so
	// bytes appended after Anchor continue it.
	Partial bool
}

// ReadLast returns the last min(n, total) lines of the file at path.
//
// The file is read backward chunkSize bytes at a time. Chunks are joined
// before splitting, so a line that straddles a chunk boundary comes out whole.
// While the scan has not reached the start of the file, the leftmost fragment
// may be the tail of a longer line and is never counted.
func ReadLast(ctx context.Context, path string, n, chunkSize int) (Snapshot, error) {
	f, err := open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	size := info.Size()
	if size == 0 || n <= 0 {
		return Snapshot{Anchor: size}, nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	// chunks are collected right to left and joined once at the end.
	var chunks [][]byte
	var newlines int
	trailingNewline := false
	cursor := size

	for cursor > 0 {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}

		start := cursor - int64(chunkSize)
		if start < 0 {
			start = 0
		}

		chunk := make([]byte, cursor-start)
		read, err := f.ReadAt(chunk, start)
		if read < len(chunk) {
			if err == nil || errors.Is(err, io.EOF) {
				return Snapshot{}, ErrShortRead
			}
			return Snapshot{}, fmt.Errorf("failed to read file: %w", err)
		}

		if cursor == size {
			trailingNewline = chunk[len(chunk)-1] == '\n'
		}
		chunks = append(chunks, chunk)
		newlines += bytes.Count(chunk, []byte{'\n'})
		cursor = start

		// Newlines that end a line which started inside the buffer. The
		// terminator of the last line does not separate two lines.
		complete := newlines
		if trailingNewline {
			complete--
		}
		if complete >= n {
			break
		}
	}

	lines := splitLines(joinReversed(chunks), cursor == 0)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return Snapshot{
		Lines:   lines,
		Anchor:  size,
		Partial: !trailingNewline && len(lines) > 0,
	}, nil
}

// open maps open failures to the package errors.
func open(path string) (*os.File, error) {
	f, err := os.Open(path) // nolint:gosec
	if err == nil {
		return f, nil
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	default:
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
}

func joinReversed(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	buf := make([]byte, 0, total)
	for i := len(chunks) - 1; i >= 0; i-- {
		buf = append(buf, chunks[i]...)
	}
	return buf
}

// splitLines splits buf on '\n'. A final separator ends the last line rather
// than opening an empty one. Unless atStart is set, the first fragment is
// dropped because the line it belongs to may begin before buf.
func splitLines(buf []byte, atStart bool) []string {
	buf = bytes.TrimSuffix(buf, []byte{'\n'})
	parts := bytes.Split(buf, []byte{'\n'})
	if !atStart {
		parts = parts[1:]
	}

	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}
