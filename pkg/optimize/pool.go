package optimize

import (
	"sync"
)

// PacketBufferPool pools MTU-sized byte slices for the RTP/RTCP read loops,
// which otherwise allocate one buffer per packet.
type PacketBufferPool struct {
	pool sync.Pool
	size int
}

// NewPacketBufferPool creates a pool handing out slices of the given size.
func NewPacketBufferPool(size int) *PacketBufferPool {
	return &PacketBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get returns a buffer of the pool's size.
func (p *PacketBufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a buffer to the pool. Undersized buffers are dropped.
func (p *PacketBufferPool) Put(b []byte) {
	if cap(b) >= p.size {
		p.pool.Put(b[:p.size])
	}
}
