package archive

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrSchemaViolation: полезная нагрузка архива не прошла проверку схемы.
// Такая нагрузка отклоняется целиком.
var ErrSchemaViolation = errors.New("archive: schema violation")

// SensorType: тип измерения в архиве.
type SensorType string

const (
	SensorTypeTemperature SensorType = "temperature"
	SensorTypeHumidity    SensorType = "humidity"
)

// Sensor: физический датчик на стороне Raspberry Pi.
type Sensor string

const (
	SensorDHT11   Sensor = "DHT11"
	SensorPiCPU   Sensor = "PI_CPU"
	SensorDS18B20 Sensor = "DS18B20"
)

// Unit: единица измерения.
type Unit string

const (
	UnitCelsius          Unit = "C"
	UnitRelativeHumidity Unit = "%"
)

// Valid проверяет принадлежность закрытому перечислению.
func (t SensorType) Valid() bool {
	return t == SensorTypeTemperature || t == SensorTypeHumidity
}

// Valid проверяет принадлежность закрытому перечислению.
func (s Sensor) Valid() bool {
	return s == SensorDHT11 || s == SensorPiCPU || s == SensorDS18B20
}

// Valid проверяет принадлежность закрытому перечислению.
func (u Unit) Valid() bool {
	return u == UnitCelsius || u == UnitRelativeHumidity
}

// Имена колонок архива: индексные, затем значения.
const (
	ColumnSensorType = "sensor_type"
	ColumnSensor     = "sensor"
	ColumnTimestamp  = "timestamp"
	ColumnReading    = "reading"
	ColumnUnit       = "unit"
)

// IndexColumns: составной индекс строки архива.
var IndexColumns = []string{ColumnSensorType, ColumnSensor, ColumnTimestamp}

// Key: пара (sensor_type, sensor), по которой строки раскладываются по наборам данных.
type Key struct {
	SensorType SensorType
	Sensor     Sensor
}

func (k Key) String() string { return string(k.SensorType) + "/" + string(k.Sensor) }

// Row: одна строка архива.
type Row struct {
	SensorType SensorType
	Sensor     Sensor
	Timestamp  time.Time
	Reading    float64
	Unit       Unit
}

// Key возвращает ключ строки.
func (r Row) Key() Key { return Key{SensorType: r.SensorType, Sensor: r.Sensor} }

// Validate проверяет все строки. Первая же некорректная строка отклоняет весь набор.
func Validate(rows []Row) error {
	for i, r := range rows {
		switch {
		case !r.SensorType.Valid():
			return fmt.Errorf("%w: row %d: sensor_type %q", ErrSchemaViolation, i, r.SensorType)
		case !r.Sensor.Valid():
			return fmt.Errorf("%w: row %d: sensor %q", ErrSchemaViolation, i, r.Sensor)
		case !r.Unit.Valid():
			return fmt.Errorf("%w: row %d: unit %q", ErrSchemaViolation, i, r.Unit)
		case r.Timestamp.IsZero():
			return fmt.Errorf("%w: row %d: missing timestamp", ErrSchemaViolation, i)
		}
	}
	return nil
}

// Series: упорядоченная по времени серия одного ключа.
type Series struct {
	Timestamps []time.Time
	Values     []float64
}

// Snapshot: проверенный набор строк, упорядоченный по индексу.
type Snapshot struct {
	Rows []Row
}

// NewSnapshot проверяет строки и сортирует их по (sensor_type, sensor, timestamp).
func NewSnapshot(rows []Row) (*Snapshot, error) {
	if err := Validate(rows); err != nil {
		return nil, err
	}
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return lessRow(sorted[i], sorted[j]) })
	return &Snapshot{Rows: sorted}, nil
}

// Len возвращает число строк.
func (s *Snapshot) Len() int { return len(s.Rows) }

// MaxTimestamp возвращает наибольшее время в наборе.
func (s *Snapshot) MaxTimestamp() (time.Time, bool) {
	var max time.Time
	for _, r := range s.Rows {
		if r.Timestamp.After(max) {
			max = r.Timestamp
		}
	}
	return max, !max.IsZero()
}

// Series раскладывает строки по ключам.
func (s *Snapshot) Series() map[Key]Series {
	out := make(map[Key]Series)
	for _, r := range s.Rows {
		k := r.Key()
		ser := out[k]
		ser.Timestamps = append(ser.Timestamps, r.Timestamp)
		ser.Values = append(ser.Values, r.Reading)
		out[k] = ser
	}
	return out
}

// Keys возвращает ключи набора в порядке индекса.
func (s *Snapshot) Keys() []Key {
	var keys []Key
	seen := make(map[Key]struct{})
	for _, r := range s.Rows {
		k := r.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func lessRow(a, b Row) bool {
	if a.SensorType != b.SensorType {
		return a.SensorType < b.SensorType
	}
	if a.Sensor != b.Sensor {
		return a.Sensor < b.Sensor
	}
	return a.Timestamp.Before(b.Timestamp)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp разбирает время в форматах, которые отдаёт архив (ISO 8601 с зоной
// и без неё, вариант с пробелом вместо "T"). Время без зоны считается UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("archive: empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("archive: unsupported timestamp %q", raw)
}
