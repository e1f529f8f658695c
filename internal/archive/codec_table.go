package archive

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

const tableSchemaVersion = "1.4.0"

type tableField struct {
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Constraints *tableConstraint `json:"constraints,omitempty"`
	Ordered     *bool            `json:"ordered,omitempty"`
	TZ          string           `json:"tz,omitempty"`
}

type tableConstraint struct {
	Enum []string `json:"enum"`
}

type tableSchema struct {
	Fields        []tableField `json:"fields"`
	PrimaryKey    []string     `json:"primaryKey"`
	PandasVersion string       `json:"pandas_version,omitempty"`
}

type tableRecord struct {
	SensorType string          `json:"sensor_type"`
	Sensor     string          `json:"sensor"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Reading    *float64        `json:"reading"`
	Unit       string          `json:"unit"`
}

type tableDocument struct {
	Schema tableSchema   `json:"schema"`
	Data   []tableRecord `json:"data"`
}

func categorical(name string, values ...string) tableField {
	ordered := false
	return tableField{Name: name, Type: "any", Constraints: &tableConstraint{Enum: values}, Ordered: &ordered}
}

func archiveTableSchema() tableSchema {
	return tableSchema{
		Fields: []tableField{
			categorical(ColumnSensorType, string(SensorTypeTemperature), string(SensorTypeHumidity)),
			categorical(ColumnSensor, string(SensorDHT11), string(SensorPiCPU), string(SensorDS18B20)),
			{Name: ColumnTimestamp, Type: "datetime", TZ: "UTC"},
			{Name: ColumnReading, Type: "number"},
			categorical(ColumnUnit, string(UnitCelsius), string(UnitRelativeHumidity)),
		},
		PrimaryKey:    IndexColumns,
		PandasVersion: tableSchemaVersion,
	}
}

// EncodeTable сериализует строки в JSON "table": схема с составным индексом и записи.
// NaN в reading пишется как null.
func EncodeTable(rows []Row) ([]byte, error) {
	doc := tableDocument{Schema: archiveTableSchema(), Data: make([]tableRecord, 0, len(rows))}
	for _, r := range rows {
		ts, err := json.Marshal(r.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, fmt.Errorf("archive: encode timestamp: %w", err)
		}
		rec := tableRecord{
			SensorType: string(r.SensorType),
			Sensor:     string(r.Sensor),
			Timestamp:  ts,
			Unit:       string(r.Unit),
		}
		if !math.IsNaN(r.Reading) && !math.IsInf(r.Reading, 0) {
			v := r.Reading
			rec.Reading = &v
		}
		doc.Data = append(doc.Data, rec)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("archive: encode table: %w", err)
	}
	return out, nil
}

// DecodeTable разбирает JSON "table". Документ может прийти дважды закодированным
// (JSON-строка, внутри которой JSON). Индекс должен совпадать с IndexColumns.
func DecodeTable(data []byte) ([]Row, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: table: %v", ErrSchemaViolation, err)
		}
		data = []byte(inner)
	}

	var doc tableDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: table: %v", ErrSchemaViolation, err)
	}
	if err := checkTableSchema(doc.Schema); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(doc.Data))
	for i, rec := range doc.Data {
		ts, err := parseRecordTimestamp(rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrSchemaViolation, i, err)
		}
		reading := math.NaN()
		if rec.Reading != nil {
			reading = *rec.Reading
		}
		rows = append(rows, Row{
			SensorType: SensorType(rec.SensorType),
			Sensor:     Sensor(rec.Sensor),
			Timestamp:  ts,
			Reading:    reading,
			Unit:       Unit(rec.Unit),
		})
	}
	return rows, nil
}

func checkTableSchema(s tableSchema) error {
	if len(s.PrimaryKey) != len(IndexColumns) {
		return fmt.Errorf("%w: table index %v, want %v", ErrSchemaViolation, s.PrimaryKey, IndexColumns)
	}
	for i, col := range IndexColumns {
		if s.PrimaryKey[i] != col {
			return fmt.Errorf("%w: table index %v, want %v", ErrSchemaViolation, s.PrimaryKey, IndexColumns)
		}
	}
	present := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		present[f.Name] = true
	}
	for _, col := range []string{ColumnSensorType, ColumnSensor, ColumnTimestamp, ColumnReading, ColumnUnit} {
		if !present[col] {
			return fmt.Errorf("%w: table has no %q column", ErrSchemaViolation, col)
		}
	}
	return nil
}

// parseRecordTimestamp принимает ISO-строку или число миллисекунд с эпохи.
func parseRecordTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return ParseTimestamp(s)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %s: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
