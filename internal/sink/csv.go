package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"midas-engine/internal/market"
)

// CSVSink writes one file per (symbol, interval) under a data directory.
// Each batch is written in reverse order, so a backward-paginating fetcher
// produces a chronologically descending file. Files are flushed after every
// batch.
type CSVSink struct {
	dataDir string
	log     zerolog.Logger

	mu    sync.Mutex
	files map[string]*csvStream
}

type csvStream struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink creates a CSV sink rooted at dataDir, creating the directory if
// needed.
func NewCSVSink(dataDir string, log zerolog.Logger) (*CSVSink, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &CSVSink{
		dataDir: dataDir,
		log:     log.With().Str("component", "csv_sink").Logger(),
		files:   make(map[string]*csvStream),
	}, nil
}

func streamKey(symbol string, interval market.Interval) string {
	return market.CSVFileName(symbol, interval)
}

// Begin truncates the stream's file and writes the header row.
func (s *CSVSink) Begin(_ context.Context, symbol string, interval market.Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(symbol, interval)
	if existing, ok := s.files[key]; ok {
		existing.writer.Flush()
		existing.file.Close()
	}

	path := filepath.Join(s.dataDir, key)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(market.CSVHeader); err != nil {
		file.Close()
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush header to %s: %w", path, err)
	}

	s.files[key] = &csvStream{file: file, writer: writer}
	s.log.Info().Str("file", path).Msg("csv stream opened")
	return nil
}

// WriteBatch appends the batch in reverse order and flushes.
func (s *CSVSink) WriteBatch(_ context.Context, symbol string, interval market.Interval, candles []market.Candle) error {
	s.mu.Lock()
	stream, ok := s.files[streamKey(symbol, interval)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("csv stream %s not started", streamKey(symbol, interval))
	}

	for i := len(candles) - 1; i >= 0; i-- {
		if err := stream.writer.Write(candles[i].CSVRecord()); err != nil {
			return fmt.Errorf("failed to write candle row: %w", err)
		}
	}
	stream.writer.Flush()
	if err := stream.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush batch: %w", err)
	}
	return nil
}

// Close flushes and closes the stream's file.
func (s *CSVSink) Close(symbol string, interval market.Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(symbol, interval)
	stream, ok := s.files[key]
	if !ok {
		return nil
	}
	delete(s.files, key)

	stream.writer.Flush()
	flushErr := stream.writer.Error()
	if err := stream.file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush %s: %w", key, flushErr)
	}
	return nil
}
