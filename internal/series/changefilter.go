package series

import "time"

// ChangeFilter пропускает в буфер только точки изменения значения.
// Для каждого ключа хранится последняя наблюдённая точка; при смене значения
// сначала пробрасывается она (если ещё не была записана), затем новая точка.
// Так серия одинаковых значений схлопывается до первой и последней точки.
type ChangeFilter[K comparable] struct {
	last map[K]observed
}

type observed struct {
	point     Point
	forwarded bool
}

// NewChangeFilter создаёт пустой фильтр.
func NewChangeFilter[K comparable]() *ChangeFilter[K] {
	return &ChangeFilter[K]{last: make(map[K]observed)}
}

// Append обрабатывает новую точку и вызывает forward для каждой точки,
// которую нужно записать. Возвращает число проброшенных точек.
func (f *ChangeFilter[K]) Append(key K, ts time.Time, value float64, forward func(Point)) int {
	p := Point{Timestamp: ts, Value: value}
	prev, ok := f.last[key]
	if !ok {
		forward(p)
		f.last[key] = observed{point: p, forwarded: true}
		return 1
	}
	if value == prev.point.Value {
		f.last[key] = observed{point: p}
		return 0
	}
	n := 0
	if !prev.forwarded {
		forward(prev.point)
		n++
	}
	forward(p)
	f.last[key] = observed{point: p, forwarded: true}
	return n + 1
}

// Last возвращает последнюю наблюдённую точку ключа.
func (f *ChangeFilter[K]) Last(key K) (Point, bool) {
	o, ok := f.last[key]
	return o.point, ok
}

// Forget сбрасывает состояние ключа, например после полной перезаписи буфера.
func (f *ChangeFilter[K]) Forget(key K) {
	delete(f.last, key)
}
