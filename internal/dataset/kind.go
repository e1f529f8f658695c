package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind: измеряемая величина. Каждой величине соответствует свой Store.
type Kind uint8

const (
	KindTemperature Kind = iota + 1
	KindHumidity
	KindCPUTemperature
)

// NumericType определяет, как разбирается сырое значение датчика.
type NumericType uint8

const (
	NumericFloat NumericType = iota + 1
	NumericInteger
)

type kindInfo struct {
	name    string
	unit    string
	numeric NumericType
	request string
}

var kinds = map[Kind]kindInfo{
	KindTemperature:    {name: "temperature", unit: "C", numeric: NumericFloat, request: "temperature"},
	KindHumidity:       {name: "humidity", unit: "%", numeric: NumericInteger, request: "humidity"},
	KindCPUTemperature: {name: "cpu_temperature", unit: "C", numeric: NumericFloat, request: "cpu"},
}

// Kinds возвращает все известные величины в порядке объявления.
func Kinds() []Kind {
	return []Kind{KindTemperature, KindHumidity, KindCPUTemperature}
}

// ParseKind разбирает имя величины ("temperature", "humidity", "cpu_temperature").
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, k := range Kinds() {
		if kinds[k].name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("dataset: unknown kind %q", name)
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid сообщает, входит ли величина в закрытый список.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Unit возвращает единицу измерения ("C" или "%").
func (k Kind) Unit() string { return kinds[k].unit }

// Numeric возвращает числовой тип значений величины.
func (k Kind) Numeric() NumericType { return kinds[k].numeric }

// Request возвращает строку запроса к сокету датчиков.
func (k Kind) Request() string { return kinds[k].request }

// Parse разбирает ответ датчика согласно числовому типу величины.
func (k Kind) Parse(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	var (
		v   float64
		err error
	)
	switch k.Numeric() {
	case NumericFloat:
		v, err = strconv.ParseFloat(raw, 64)
	case NumericInteger:
		var n int64
		n, err = strconv.ParseInt(raw, 10, 64)
		v = float64(n)
		if err != nil {
			// DHT11 иногда отдаёт "45.0".
			if f, ferr := strconv.ParseFloat(raw, 64); ferr == nil && f == math.Trunc(f) {
				v, err = f, nil
			}
		}
	default:
		return 0, fmt.Errorf("dataset: %s has no numeric type", k)
	}
	if err != nil {
		return 0, fmt.Errorf("dataset: parse %s value %q: %w", k, raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("dataset: parse %s value %q: not finite", k, raw)
	}
	return v, nil
}
