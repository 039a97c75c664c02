package dom

import (
	"crypto/rand"
)

const (
	// NodeIDLength node_id 长度
	NodeIDLength      = 8
	nodeIDAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// 62*4 = 248，大于等于它的字节丢弃，避免取模偏差
	nodeIDRejectAbove = 248
)

// IDGenerator 生成 node_id
type IDGenerator func() string

// RandomNodeID 基于 crypto/rand 的定长字母数字 ID
func RandomNodeID() string {
	out := make([]byte, 0, NodeIDLength)
	buf := make([]byte, NodeIDLength*2)
	for len(out) < NodeIDLength {
		if _, err := rand.Read(buf); err != nil {
			panic("dom: crypto/rand failed: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= nodeIDRejectAbove {
				continue
			}
			out = append(out, nodeIDAlphabet[int(b)%len(nodeIDAlphabet)])
			if len(out) == NodeIDLength {
				break
			}
		}
	}
	return string(out)
}

// newUniqueID 与本次构建已用 ID 冲突时重新生成
func newUniqueID(gen IDGenerator, used map[string]struct{}) string {
	for {
		id := gen()
		if _, taken := used[id]; !taken {
			return id
		}
	}
}
