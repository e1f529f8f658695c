package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pv/raspberry-listener-go/internal/storage"
)

// StorageSource отдаёт архив напрямую из хранилища показаний, сериализуя его
// так же, как HTTP API архива.
type StorageSource struct {
	Storage storage.Storage
	// Window: окно потоковой подгрузки; 0: значение бэкенда по умолчанию.
	Window time.Duration
}

// Fetch читает показания начиная с req.Since и кодирует их в формат режима.
func (s *StorageSource) Fetch(ctx context.Context, req Request) (Payload, error) {
	rows, err := s.Rows(ctx, req.Since)
	if err != nil {
		return Payload{}, err
	}
	return Encode(req.Mode.Format(), rows)
}

// Rows читает показания начиная с since (включительно).
func (s *StorageSource) Rows(ctx context.Context, since time.Time) ([]Row, error) {
	if s.Storage == nil {
		return nil, fmt.Errorf("%w: storage is not configured", ErrArchiveUnavailable)
	}
	readings, err := storage.ReadSince(ctx, s.Storage, since, s.Window)
	if errors.Is(err, storage.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	rows := make([]Row, len(readings))
	for i, r := range readings {
		rows[i] = RowFromReading(r)
	}
	return rows, nil
}

// RowFromReading переводит строку хранилища в строку архива.
func RowFromReading(r storage.Reading) Row {
	return Row{
		SensorType: SensorType(r.SensorType),
		Sensor:     Sensor(r.Sensor),
		Timestamp:  r.Timestamp.UTC(),
		Reading:    r.Value,
		Unit:       Unit(r.Unit),
	}
}

// ReadingFromRow: обратное преобразование.
func ReadingFromRow(r Row) storage.Reading {
	return storage.Reading{
		SensorType: string(r.SensorType),
		Sensor:     string(r.Sensor),
		Timestamp:  r.Timestamp,
		Value:      r.Reading,
		Unit:       string(r.Unit),
	}
}
