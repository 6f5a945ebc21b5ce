package util

import "sync"

// DefaultBufSize is the read size for one unit of socket or terminal
// input (8 KiB).  DBGp responses are usually far smaller; larger ones
// simply arrive over several reads.
const DefaultBufSize = 8 * 1024

// BufPool provides reusable read buffers so the per-chunk readers do
// not allocate a fresh 8 KiB slice for every few bytes of input.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}

// ReadChunk performs a single Read into a pooled buffer and returns a
// private copy of whatever arrived, together with the read error.
func ReadChunk(r interface{ Read([]byte) (int, error) }) ([]byte, error) {
	buf := GetBuf()
	defer PutBuf(buf)

	n, err := r.Read(*buf)
	if n == 0 {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, (*buf)[:n])
	return out, err
}
