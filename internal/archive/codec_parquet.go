package archive

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

const parquetParallelism = 4

// parquetRow: плоская запись архива: индекс сохраняется обычными колонками.
type parquetRow struct {
	SensorType string  `parquet:"name=sensor_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Sensor     string  `parquet:"name=sensor, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Reading    float64 `parquet:"name=reading, type=DOUBLE"`
	Unit       string  `parquet:"name=unit, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
}

// EncodeParquet сериализует строки в Parquet со сжатием SNAPPY.
func EncodeParquet(rows []Row) ([]byte, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewParquetWriter(pfw, new(parquetRow), parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("archive: parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		rec := parquetRow{
			SensorType: string(r.SensorType),
			Sensor:     string(r.Sensor),
			Timestamp:  r.Timestamp.UnixMicro(),
			Reading:    r.Reading,
			Unit:       string(r.Unit),
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, fmt.Errorf("archive: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = pfw.Close()
		return nil, fmt.Errorf("archive: parquet write: %w", err)
	}
	_ = pfw.Close()
	return buf.Bytes(), nil
}

// DecodeParquet читает Parquet-снимок архива. Категориальные колонки
// приводятся к строкам и проверяются через Validate вызывающей стороной.
func DecodeParquet(data []byte) (rows []Row, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty parquet payload", ErrSchemaViolation)
	}
	// parquet-go паникует на некоторых повреждённых файлах.
	defer func() {
		if r := recover(); r != nil {
			rows = nil
			err = fmt.Errorf("%w: parquet: %v", ErrSchemaViolation, r)
		}
	}()

	pr, err := reader.NewParquetReader(newBytesFile(data), new(parquetRow), parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("%w: parquet: %v", ErrSchemaViolation, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	recs := make([]parquetRow, n)
	if n > 0 {
		if err := pr.Read(&recs); err != nil {
			return nil, fmt.Errorf("%w: parquet read: %v", ErrSchemaViolation, err)
		}
	}

	rows = make([]Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, Row{
			SensorType: SensorType(strings.TrimSpace(rec.SensorType)),
			Sensor:     Sensor(strings.TrimSpace(rec.Sensor)),
			Timestamp:  time.UnixMicro(rec.Timestamp).UTC(),
			Reading:    rec.Reading,
			Unit:       Unit(strings.TrimSpace(rec.Unit)),
		})
	}
	return rows, nil
}

// bytesFile: source.ParquetFile поверх среза байт в памяти. Reader открывает
// отдельный дескриптор на каждую колонку, поэтому Open возвращает новый курсор.
type bytesFile struct {
	data []byte
	r    *bytes.Reader
}

var _ source.ParquetFile = (*bytesFile)(nil)

func newBytesFile(data []byte) *bytesFile {
	return &bytesFile{data: data, r: bytes.NewReader(data)}
}

func (f *bytesFile) Open(string) (source.ParquetFile, error) {
	return newBytesFile(f.data), nil
}

func (f *bytesFile) Create(string) (source.ParquetFile, error) {
	return nil, errors.New("archive: in-memory parquet file is read-only")
}

func (f *bytesFile) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *bytesFile) Seek(offset int64, whence int) (int64, error) {
	return f.r.Seek(offset, whence)
}

func (f *bytesFile) Write([]byte) (int, error) {
	return 0, errors.New("archive: in-memory parquet file is read-only")
}

func (f *bytesFile) Close() error { return nil }
