//go:build !linux

package relay

import (
	"io"

	"github.com/mtgrelay/mtgproxy/essentials"
)

// copyWithZeroCopy на не-Linux системах просто использует стандартный io.CopyBuffer
func copyWithZeroCopy(src, dst essentials.Conn, buf []byte) (int64, error) {
	return io.CopyBuffer(dst, src, buf)
}
