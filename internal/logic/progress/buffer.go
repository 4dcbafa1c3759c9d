package progress

import (
	"sync"
)

// recordBuffer 暂存写入 Redis 失败的记录，同一 bundle 只保留最新一条
type recordBuffer struct {
	mu     sync.Mutex
	buffer map[string]*BundleRecord
}

func newRecordBuffer() *recordBuffer {
	return &recordBuffer{
		buffer: make(map[string]*BundleRecord),
	}
}

func (b *recordBuffer) Add(rec *BundleRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.buffer[rec.BundleID]; ok && cur.IsTerminal() && !rec.IsTerminal() {
		return
	}
	b.buffer[rec.BundleID] = rec
}

// Remove 丢弃某个 bundle 的缓冲记录，较新的状态已写入成功时调用
func (b *recordBuffer) Remove(bundleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffer, bundleID)
}

func (b *recordBuffer) Flush() []*BundleRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	flushed := make([]*BundleRecord, 0, len(b.buffer))
	for _, rec := range b.buffer {
		flushed = append(flushed, rec)
	}
	b.buffer = make(map[string]*BundleRecord) // reset
	return flushed
}

func (b *recordBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
