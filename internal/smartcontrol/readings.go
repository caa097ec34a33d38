package smartcontrol

import "sync"

// SensorCache holds the latest value per sensor. It is safe for concurrent use.
type SensorCache struct {
	mu          sync.RWMutex
	temperature map[string]float64
	occupancy   map[string]bool
}

func NewSensorCache() *SensorCache {
	return &SensorCache{
		temperature: make(map[string]float64),
		occupancy:   make(map[string]bool),
	}
}

// SetTemperature stores a reading and reports whether the value changed.
func (c *SensorCache) SetTemperature(id string, value float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.temperature[id]
	c.temperature[id] = value
	return !ok || prev != value
}

// SetOccupancy stores a reading and reports whether the value changed.
func (c *SensorCache) SetOccupancy(id string, active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.occupancy[id]
	c.occupancy[id] = active
	return !ok || prev != active
}

func (c *SensorCache) Temperature(id string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.temperature[id]
	return v, ok
}

func (c *SensorCache) Occupied(id string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.occupancy[id]
	return v, ok
}
