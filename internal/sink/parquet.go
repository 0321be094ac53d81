package sink

import (
	"context"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// TileStat describes one emitted tile for offline analysis: which tiles are
// big, how many features they carry, and how well deduplication worked.
type TileStat struct {
	Zoom        int
	X           int
	Y           int
	NumFeatures int64
	Bytes       int64
	Dedup       bool // tile reused another tile's encoded bytes
}

// ParquetStatsWriter appends per-tile stats records to a Parquet file.
type ParquetStatsWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

// NewParquetStatsWriter creates the stats file and its writer.
func NewParquetStatsWriter(path string, batchSize int) (*ParquetStatsWriter, error) {
	if batchSize <= 0 {
		batchSize = 10000
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "zoom", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "x", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "y", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "num_features", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "bytes", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "dedup", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
	}, nil)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	writer, err := pqarrow.NewFileWriter(schema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ParquetStatsWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, schema),
		batchSize: batchSize,
	}, nil
}

// Write appends one stats record.
func (w *ParquetStatsWriter) Write(stat TileStat) error {
	w.builder.Field(0).(*array.Int32Builder).Append(int32(stat.Zoom))
	w.builder.Field(1).(*array.Int32Builder).Append(int32(stat.X))
	w.builder.Field(2).(*array.Int32Builder).Append(int32(stat.Y))
	w.builder.Field(3).(*array.Int64Builder).Append(stat.NumFeatures)
	w.builder.Field(4).(*array.Int64Builder).Append(stat.Bytes)
	w.builder.Field(5).(*array.BooleanBuilder).Append(stat.Dedup)
	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *ParquetStatsWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	if err := w.writer.Write(rec); err != nil {
		return err
	}
	w.count = 0
	return nil
}

// Close flushes the last batch and finalizes the file.
func (w *ParquetStatsWriter) Close(context.Context) error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return err
	}
	return w.file.Close()
}
