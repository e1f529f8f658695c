package archive

import (
	"errors"
	"fmt"

	"github.com/pv/raspberry-listener-go/internal/dataset"
)

// DefaultSourceName: имя источника архива Raspberry Pi.
const DefaultSourceName = "Pi-sensors"

// AvailableSensors: датчики, которые публикует Raspberry Pi, по типу измерения.
var AvailableSensors = map[SensorType][]Sensor{
	SensorTypeTemperature: {SensorDHT11, SensorDS18B20, SensorPiCPU},
	SensorTypeHumidity:    {SensorDHT11},
}

// Binding: куда попадают строки одного ключа архива.
type Binding struct {
	Kind dataset.Kind
	ID   dataset.Identifier
}

// Bindings сопоставляет ключи архива наборам данных.
type Bindings map[Key]Binding

// KindFor возвращает величину для типа измерения архива.
func KindFor(t SensorType) (dataset.Kind, bool) {
	switch t {
	case SensorTypeTemperature:
		return dataset.KindTemperature, true
	case SensorTypeHumidity:
		return dataset.KindHumidity, true
	default:
		return 0, false
	}
}

// DefaultBindings связывает все AvailableSensors с наборами {source, sensor}.
func DefaultBindings(source string) Bindings {
	if source == "" {
		source = DefaultSourceName
	}
	b := make(Bindings)
	for sensorType, sensors := range AvailableSensors {
		kind, _ := KindFor(sensorType)
		for _, sensor := range sensors {
			b[Key{SensorType: sensorType, Sensor: sensor}] = Binding{
				Kind: kind,
				ID:   dataset.NewIdentifier(source, string(sensor)),
			}
		}
	}
	return b
}

// Register регистрирует все наборы в каталоге. Уже существующие пропускаются.
func (b Bindings) Register(c *dataset.Catalog) error {
	for key, bind := range b {
		if !bind.Kind.Valid() {
			return fmt.Errorf("archive: binding %s: invalid kind %d", key, bind.Kind)
		}
		err := c.Store(bind.Kind).Register(bind.ID)
		if err != nil && !errors.Is(err, dataset.ErrAlreadyRegistered) {
			return fmt.Errorf("archive: binding %s: %w", key, err)
		}
	}
	return nil
}
