package vidattn

import (
	"sync"
)

// batchPool holds staging buffers for batches of clips, keyed by length.
var batchPool = struct {
	sync.Mutex
	pools map[int]*sync.Pool
}{pools: make(map[int]*sync.Pool)}

func poolOf(n int) *sync.Pool {
	batchPool.Lock()
	defer batchPool.Unlock()
	p, ok := batchPool.pools[n]
	if !ok {
		p = &sync.Pool{
			New: func() interface{} { return make([]float32, n) },
		}
		batchPool.pools[n] = p
	}
	return p
}

// borrowBatch returns a buffer of n values. Its contents are undefined.
func borrowBatch(n int) []float32 {
	return poolOf(n).Get().([]float32)
}

// returnBatch gives a buffer back for reuse.
func returnBatch(buf []float32) {
	poolOf(len(buf)).Put(buf)
}
