package dataset

import "github.com/go-faster/city"

// Identifier однозначно задаёт набор данных: источник (например, "Pi-sensors")
// и имя датчика внутри источника.
type Identifier struct {
	Source string `json:"source"`
	Name   string `json:"name"`
}

// NewIdentifier создаёт идентификатор набора данных.
func NewIdentifier(source, name string) Identifier {
	return Identifier{Source: source, Name: name}
}

// Hash вычисляет cityhash64 от "source/name". Это поле id в ответах HTTP API
// и ключ маршрута /api/datasets/by-id/{id}; Store.Register отклоняет коллизии.
func (id Identifier) Hash() int64 {
	return int64(city.Hash64([]byte(id.Source + "/" + id.Name)))
}

func (id Identifier) String() string {
	return id.Source + "/" + id.Name
}
