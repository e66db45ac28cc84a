package ids

import (
	"hash/crc32"
	"strconv"
	"sync"
	"time"
)

// Node 雪花 ID 生成器：41 位毫秒时间戳 + 10 位节点 + 12 位序列
type Node struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
}

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// NewNode nodeID 越界时回落到 1
func NewNode(nodeID int64) *Node {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	return &Node{epochMS: epoch, nodeID: nodeID}
}

// NodeFromString 按实例 ID 哈希出节点号，多实例下连接 ID 不易冲突
func NodeFromString(instanceID string) *Node {
	return NewNode(int64(crc32.ChecksumIEEE([]byte(instanceID)) % 1024))
}

func (g *Node) NextString() string {
	return strconv.FormatInt(g.Next(), 10)
}

func (g *Node) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := time.Now().UnixMilli()
		if now < g.lastTSMS {
			// 时钟回拨，等待
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF
			if g.seq == 0 {
				// 序列溢出，等到下一毫秒
				for now <= g.lastTSMS {
					now = time.Now().UnixMilli()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - g.epochMS) & ((1 << 41) - 1)
		return (ts << 22) | (g.nodeID << 12) | g.seq
	}
}
