package dataset

import "sync"

// Catalog группирует хранилища по величинам: температура и влажность одного
// DHT11 имеют одинаковый идентификатор, но живут в разных Store.
type Catalog struct {
	mu       sync.Mutex
	capacity int
	stores   map[Kind]*Store
}

// NewCatalog создаёт каталог; capacity передаётся в каждый новый Store.
func NewCatalog(capacity int) *Catalog {
	return &Catalog{capacity: capacity, stores: make(map[Kind]*Store)}
}

// Store возвращает хранилище величины, создавая его при первом обращении.
func (c *Catalog) Store(kind Kind) *Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.stores[kind]
	if !ok {
		st = NewStore(kind, c.capacity)
		c.stores[kind] = st
	}
	return st
}

// Lookup возвращает хранилище, только если оно уже создано.
func (c *Catalog) Lookup(kind Kind) (*Store, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.stores[kind]
	return st, ok
}

// Kinds возвращает величины, для которых созданы хранилища, в порядке объявления.
func (c *Catalog) Kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Kind
	for _, k := range Kinds() {
		if _, ok := c.stores[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// ByHash ищет идентификатор по hash во всех хранилищах. Один идентификатор
// может жить в нескольких величинах, они возвращаются в порядке объявления.
func (c *Catalog) ByHash(hash int64) (Identifier, []Kind, bool) {
	var (
		found Identifier
		kinds []Kind
	)
	for _, k := range c.Kinds() {
		st, _ := c.Lookup(k)
		id, ok := st.ByHash(hash)
		if !ok || (len(kinds) > 0 && id != found) {
			continue
		}
		found = id
		kinds = append(kinds, k)
	}
	return found, kinds, len(kinds) > 0
}
