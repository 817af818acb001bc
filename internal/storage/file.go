package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rateScope/internal/model"
)

// FileWriter stores each record as <root>/<block>/<pool>.json.
type FileWriter struct {
	root string
}

func NewFileWriter(root string) *FileWriter {
	return &FileWriter{root: root}
}

// Path returns the destination of the record for pool at block.
func (w *FileWriter) Path(block uint64, pool string) string {
	return filepath.Join(w.root, strconv.FormatUint(block, 10), strings.ToLower(pool)+".json")
}

// Write replaces the record file atomically.
func (w *FileWriter) Write(ctx context.Context, record model.ExchangeRateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.Pool == "" {
		return fmt.Errorf("record pool is empty")
	}

	path := w.Path(record.BlockNumber, record.Pool)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create block dir: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}

// ReadRecord loads a record written by FileWriter.
func ReadRecord(path string) (model.ExchangeRateRecord, error) {
	var record model.ExchangeRateRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("parse record %s: %w", path, err)
	}
	return record, nil
}

// Latest returns the record of pool from the highest block directory that
// holds one.
func (w *FileWriter) Latest(pool string) (model.ExchangeRateRecord, bool, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.ExchangeRateRecord{}, false, nil
		}
		return model.ExchangeRateRecord{}, false, fmt.Errorf("read db dir: %w", err)
	}

	blocks := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		block, err := strconv.ParseUint(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] > blocks[j] })

	for _, block := range blocks {
		record, err := ReadRecord(w.Path(block, pool))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return model.ExchangeRateRecord{}, false, err
		}
		return record, true, nil
	}
	return model.ExchangeRateRecord{}, false, nil
}
