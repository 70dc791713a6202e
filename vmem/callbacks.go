package vmem

// ReserveMemoryCallback is called after a region has been reserved and accounted for
type ReserveMemoryCallback func(
	manager *Manager,
	region *Region,
	userData interface{},
)

// FreeMemoryCallback is called after a region has been released back to the OS
type FreeMemoryCallback func(
	manager *Manager,
	region *Region,
	userData interface{},
)

type MemoryCallbackOptions struct {
	Reserve  ReserveMemoryCallback
	Free     FreeMemoryCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Manager   *Manager
}

func (c *memoryCallbacks) Reserve(region *Region) {
	if c.Callbacks != nil && c.Callbacks.Reserve != nil {
		c.Callbacks.Reserve(c.Manager, region, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(region *Region) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Manager, region, c.Callbacks.UserData)
	}
}
