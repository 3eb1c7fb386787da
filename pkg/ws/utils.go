package ws

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
)

var (
	// nodePrefix 进程级随机前缀，区分多实例下的连接 ID
	nodePrefix = newNodePrefix()
	connSeq    atomic.Uint64
)

func newNodePrefix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "c0"
	}
	return hex.EncodeToString(b)
}

// NewConnectionID 生成传输层连接 ID，格式为 <前缀>-<36 进制序号>
func NewConnectionID() string {
	return nodePrefix + "-" + strconv.FormatUint(connSeq.Add(1), 36)
}
