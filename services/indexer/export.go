package indexer

import (
	"context"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type contentRow struct {
	ResourceID string `parquet:"name=resource_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	SpaceID    string `parquet:"name=space_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Publisher  string `parquet:"name=publisher, type=UTF8, encoding=PLAIN_DICTIONARY"`
	BlobRef    string `parquet:"name=blob_ref, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Title      string `parquet:"name=title, type=UTF8, encoding=PLAIN_DICTIONARY"`
	MediaType  string `parquet:"name=media_type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	RecordedAt int64  `parquet:"name=recorded_at, type=INT64"`
	Height     int64  `parquet:"name=height, type=INT64"`
}

// ExportContent writes every content announcement at or above fromHeight
// to a parquet file at path and returns the row count.
func (i *Indexer) ExportContent(ctx context.Context, path string, fromHeight uint64) (int, error) {
	var records []ContentRecord
	if err := i.db.WithContext(ctx).Where("height >= ?", fromHeight).Order("height asc, id asc").Find(&records).Error; err != nil {
		return 0, err
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(contentRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &contentRow{
			ResourceID: rec.ResourceID,
			SpaceID:    rec.SpaceID,
			Publisher:  rec.Publisher,
			BlobRef:    rec.BlobRef,
			Title:      rec.Title,
			MediaType:  rec.MediaType,
			RecordedAt: int64(rec.RecordedAt),
			Height:     int64(rec.Height),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("indexer: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return len(records), nil
}
