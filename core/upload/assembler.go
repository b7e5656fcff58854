package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"labelpanel/core/apperr"
	"labelpanel/logger"
)

// Chunk is one slice of a client-streamed file.
type Chunk struct {
	Key   Key
	Data  io.Reader
	Index int
	Total int
	// Offset, when set, must equal the bytes already written.
	Offset *int64
}

// Result reports the state of the transfer after a chunk was written.
type Result struct {
	Done bool
	Path string
	Size int64
}

// ParseChunkMeta validates the raw chunkIndex/totalChunks form values.
func ParseChunkMeta(indexRaw, totalRaw string) (index, total int, err error) {
	index, err = strconv.Atoi(strings.TrimSpace(indexRaw))
	if err != nil {
		return 0, 0, apperr.InvalidChunkMetadata(fmt.Sprintf("chunkIndex %q is not an integer", indexRaw))
	}
	total, err = strconv.Atoi(strings.TrimSpace(totalRaw))
	if err != nil {
		return 0, 0, apperr.InvalidChunkMetadata(fmt.Sprintf("totalChunks %q is not an integer", totalRaw))
	}
	if index < 0 || total < 1 || index >= total {
		return 0, 0, apperr.InvalidChunkMetadata(fmt.Sprintf("chunk %d out of range for %d chunks", index, total))
	}
	return index, total, nil
}

// ParseOffset parses the optional chunkOffset form value.
func ParseOffset(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	off, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || off < 0 {
		return nil, apperr.InvalidChunkMetadata(fmt.Sprintf("chunkOffset %q is not a valid byte offset", raw))
	}
	return &off, nil
}

// Assembler reassembles chunked uploads into files under one directory.
type Assembler struct {
	dir string
	seq Sequencer
}

func NewAssembler(dir string, seq Sequencer) *Assembler {
	return &Assembler{dir: dir, seq: seq}
}

// Dir is the temp directory the assembler writes to.
func (a *Assembler) Dir() string { return a.dir }

// Path resolves the temp file for key.
func (a *Assembler) Path(key Key) string {
	return filepath.Join(a.dir, key.Name())
}

// AppendChunk writes c at the end of its temp file. Chunk 0 truncates.
// Out-of-order chunks are rejected without touching the file.
func (a *Assembler) AppendChunk(ctx context.Context, c Chunk) (Result, error) {
	if c.Index < 0 || c.Total < 1 || c.Index >= c.Total {
		return Result{}, apperr.InvalidChunkMetadata(fmt.Sprintf("chunk %d out of range for %d chunks", c.Index, c.Total))
	}

	// 确保临时目录存在
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return Result{}, apperr.Internal(fmt.Errorf("create temp dir: %w", err))
	}

	name := c.Key.Name()
	path := filepath.Join(a.dir, name)

	if c.Offset != nil {
		var current int64
		if c.Index > 0 {
			if fi, err := os.Stat(path); err == nil {
				current = fi.Size()
			}
		}
		if *c.Offset != current {
			return Result{}, apperr.InvalidChunkMetadata(
				fmt.Sprintf("chunkOffset %d does not match %d bytes received", *c.Offset, current))
		}
	}

	expected, ok, err := a.seq.Claim(ctx, name, c.Index)
	if err != nil {
		return Result{}, apperr.Internal(fmt.Errorf("claim chunk %d: %w", c.Index, err))
	}
	if !ok {
		logger.Warn("chunk out of order",
			logger.String("file", name),
			logger.Int("index", c.Index),
			logger.Int("expected", expected))
		return Result{}, apperr.ChunkOutOfOrder(expected, c.Index)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if c.Index == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	size, err := writeChunk(path, flags, c.Data)
	if err != nil {
		a.Discard(ctx, c.Key)
		return Result{}, apperr.Internal(fmt.Errorf("write chunk %d of %s: %w", c.Index, name, err))
	}

	done := c.Index == c.Total-1
	if done {
		if err := a.seq.Clear(ctx, name); err != nil {
			logger.Warn("failed to clear chunk sequence", logger.String("file", name), logger.ErrorField(err))
		}
	}

	logger.Debug("chunk appended",
		logger.String("file", name),
		logger.Int("index", c.Index),
		logger.Int("total", c.Total),
		logger.Int64("size", size))

	return Result{Done: done, Path: path, Size: size}, nil
}

func writeChunk(path string, flags int, data io.Reader) (int64, error) {
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return 0, err
	}
	if data != nil {
		if _, err := io.Copy(f, data); err != nil {
			f.Close()
			return 0, err
		}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, err
	}
	return fi.Size(), f.Close()
}

// Discard removes the temp file of key and forgets its sequence.
func (a *Assembler) Discard(ctx context.Context, key Key) {
	name := key.Name()
	if err := a.seq.Clear(ctx, name); err != nil {
		logger.Warn("failed to clear chunk sequence", logger.String("file", name), logger.ErrorField(err))
	}
	if err := RemoveFile(filepath.Join(a.dir, name)); err != nil {
		logger.Warn("failed to remove temp file", logger.String("file", name), logger.ErrorField(err))
	}
}

// RemoveFile deletes path, treating a missing file as success.
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
