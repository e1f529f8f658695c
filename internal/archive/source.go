package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrArchiveUnavailable: архив недоступен (сеть, таймаут, открытый breaker, ответ не 2xx).
// Цикл синхронизации в этом случае ничего не меняет в хранилище.
var ErrArchiveUnavailable = errors.New("archive: archive unavailable")

// Mode: режим загрузки.
type Mode uint8

const (
	// ModeFull: полный снимок в Parquet, заменяет содержимое наборов.
	ModeFull Mode = iota + 1
	// ModeIncremental: записи JSON "table" начиная с since, дописываются в конец.
	ModeIncremental
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// Format возвращает формат полезной нагрузки для режима.
func (m Mode) Format() Format {
	if m == ModeIncremental {
		return FormatJSON
	}
	return FormatParquet
}

// Format: формат сериализации архива.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// ParseFormat разбирает имя формата из пути или параметра.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.Trim(strings.ToLower(s), "/ ")) {
	case FormatParquet:
		return FormatParquet, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("archive: unsupported format %q", s)
	}
}

// Request описывает запрос к архиву. Нулевой Since означает «весь архив».
type Request struct {
	Mode  Mode
	Since time.Time
}

// Payload: сырые байты ответа архива.
type Payload struct {
	Format Format
	Body   []byte
}

// Decode разбирает полезную нагрузку в строки согласно формату.
func (p Payload) Decode() ([]Row, error) {
	switch p.Format {
	case FormatParquet:
		return DecodeParquet(p.Body)
	case FormatJSON:
		return DecodeTable(p.Body)
	default:
		return nil, fmt.Errorf("%w: unknown payload format %q", ErrSchemaViolation, p.Format)
	}
}

// Encode сериализует строки в указанный формат.
func Encode(format Format, rows []Row) (Payload, error) {
	var (
		body []byte
		err  error
	)
	switch format {
	case FormatParquet:
		body, err = EncodeParquet(rows)
	case FormatJSON:
		body, err = EncodeTable(rows)
	default:
		return Payload{}, fmt.Errorf("archive: unsupported format %q", format)
	}
	if err != nil {
		return Payload{}, err
	}
	return Payload{Format: format, Body: body}, nil
}

// Source отдаёт архив. Единственная блокирующая операция цикла синхронизации.
type Source interface {
	Fetch(ctx context.Context, req Request) (Payload, error)
}

// HTTPError: ответ архива с кодом не 2xx. Считается недоступностью архива.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("archive: http status %d: %s", e.Status, e.Body)
}

// Is позволяет errors.Is(err, ErrArchiveUnavailable) для ошибок HTTP.
func (e *HTTPError) Is(target error) bool {
	return target == ErrArchiveUnavailable
}
