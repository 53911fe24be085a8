package monitor

import (
	"sync"

	"github.com/bililive-go/bililive-monitor/src/types"
)

// liveFlags 各直播间的开播通知标志。
// 标志只在成对的 check-and-set 下翻转，保证开播/下播通知恰好各推一次。
type liveFlags struct {
	mu   sync.Mutex
	live map[types.RoomID]bool
}

func newLiveFlags() *liveFlags {
	return &liveFlags{live: make(map[types.RoomID]bool)}
}

// TrySetLive 置位，已置位时返回 false
func (f *liveFlags) TrySetLive(roomID types.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live[roomID] {
		return false
	}
	f.live[roomID] = true
	return true
}

// ClearLive 清位，未置位时返回 false
func (f *liveFlags) ClearLive(roomID types.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[roomID] {
		return false
	}
	delete(f.live, roomID)
	return true
}

func (f *liveFlags) IsLive(roomID types.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[roomID]
}

func (f *liveFlags) Remove(roomID types.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, roomID)
}
