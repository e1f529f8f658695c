package series

import (
	"errors"
	"math"
	"time"
)

// DefaultCapacity: начальная ёмкость буфера, если она не задана в конфигурации.
const DefaultCapacity = 1024

// ErrLengthMismatch возвращается, когда массивы времени и значений имеют разную длину.
var ErrLengthMismatch = errors.New("series: timestamps and values length mismatch")

// Point: одно измерение датчика.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Buffer хранит два параллельных массива (время, значение) с логической длиной,
// отличной от физической ёмкости. Ёмкость только растёт, удваиваясь.
//
// Buffer не потокобезопасен: синхронизацию обеспечивает владелец (dataset.Store).
type Buffer struct {
	timestamps []time.Time
	values     []float64
	length     int
	initial    int
	written    bool

	// moved считает элементы, скопированные при росте.
	moved int
}

// NewBuffer создаёт пустой буфер с заданной начальной ёмкостью.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		timestamps: make([]time.Time, capacity),
		values:     make([]float64, capacity),
		initial:    capacity,
	}
}

// Len возвращает логическую длину.
func (b *Buffer) Len() int { return b.length }

// Cap возвращает физическую ёмкость.
func (b *Buffer) Cap() int { return len(b.values) }

// Ready сообщает, была ли в буфер хотя бы одна запись.
func (b *Buffer) Ready() bool { return b.written }

// Append дописывает точку в конец. Перед записью буфер растёт, если length+1 >= capacity.
func (b *Buffer) Append(ts time.Time, value float64) {
	for b.length+1 >= b.Cap() {
		b.grow()
	}
	b.timestamps[b.length] = ts
	b.values[b.length] = value
	b.length++
	b.written = true
}

// Extend дописывает диапазон точек. Буфер удваивается, пока capacity <= length+len(ts).
// Пустой диапазон не считается записью.
func (b *Buffer) Extend(ts []time.Time, values []float64) error {
	if len(ts) != len(values) {
		return ErrLengthMismatch
	}
	if len(ts) == 0 {
		return nil
	}
	for b.Cap() <= b.length+len(ts) {
		b.grow()
	}
	copy(b.timestamps[b.length:], ts)
	copy(b.values[b.length:], values)
	b.length += len(ts)
	b.written = true
	return nil
}

// Overwrite заменяет массивы целиком. Точки с NaN/Inf отбрасываются вместе с их timestamp.
// После вызова length == capacity == число оставшихся точек.
func (b *Buffer) Overwrite(ts []time.Time, values []float64) error {
	if len(ts) != len(values) {
		return ErrLengthMismatch
	}
	finite := 0
	for _, v := range values {
		if isFinite(v) {
			finite++
		}
	}
	newTs := make([]time.Time, 0, finite)
	newValues := make([]float64, 0, finite)
	for i, v := range values {
		if !isFinite(v) {
			continue
		}
		newTs = append(newTs, ts[i])
		newValues = append(newValues, v)
	}
	b.timestamps = newTs
	b.values = newValues
	b.length = finite
	b.written = true
	return nil
}

// Read возвращает срезы [0:length] без копирования.
// Последующие записи не меняют уже выданные срезы: дозапись идёт за их границу,
// рост и Overwrite выделяют новые массивы.
func (b *Buffer) Read() ([]time.Time, []float64) {
	return b.timestamps[:b.length:b.length], b.values[:b.length:b.length]
}

// Last возвращает последнюю точку буфера.
func (b *Buffer) Last() (Point, bool) {
	if b.length == 0 {
		return Point{}, false
	}
	return Point{Timestamp: b.timestamps[b.length-1], Value: b.values[b.length-1]}, true
}

func (b *Buffer) grow() {
	newCap := 2 * b.Cap()
	if newCap == 0 {
		newCap = b.initial
	}
	ts := make([]time.Time, newCap)
	values := make([]float64, newCap)
	b.moved += copy(ts, b.timestamps[:b.length])
	copy(values, b.values[:b.length])
	b.timestamps = ts
	b.values = values
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
