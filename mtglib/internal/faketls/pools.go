package faketls

import (
	"bytes"
	"sync"
)

var bytesBufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

func acquireBytesBuffer() *bytes.Buffer {
	buf := bytesBufferPool.Get().(*bytes.Buffer) //nolint: forcetypeassert
	buf.Reset()

	return buf
}

func releaseBytesBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 262144 {
		return
	}

	bytesBufferPool.Put(buf)
}
