package txlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/metrics"
	"custodex.com/pkg/wal"
)

const (
	outboxFile = "records.wal"
	cursorFile = "records.cursor"
)

// Outbox 仓储写不进去时的兜底：记录先 fsync 到本地 WAL，再由 relay 重放进仓储
type Outbox struct {
	mu         sync.Mutex
	path       string
	cursorPath string
	w          *wal.Writer
}

func OpenOutbox(dir string) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	path := filepath.Join(dir, outboxFile)
	w, err := wal.OpenWrite(path, 64<<10)
	if err != nil {
		return nil, fmt.Errorf("open outbox wal: %w", err)
	}
	o := &Outbox{path: path, cursorPath: filepath.Join(dir, cursorFile), w: w}
	// 游标超过文件长度：上次 reset 后没来得及写游标
	if loadCursor(o.cursorPath) > w.Offset() {
		if err := storeCursor(o.cursorPath, 0); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	return o, nil
}

// Append 一次提交的记录作为一条 WAL record，返回前已落盘
func (o *Outbox) Append(recs []domain.TransactionRecord) error {
	payload, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.w.Sync(payload); err != nil {
		return err
	}
	metrics.OutboxAppends.Inc()
	return nil
}

// Drain 从游标开始重放，fn 失败即停在当前 record，下次从这里继续
// 全部消费完后清空文件
func (o *Outbox) Drain(fn func(recs []domain.TransactionRecord) error) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.w.Offset() == 0 {
		return 0, nil
	}
	cursor := loadCursor(o.cursorPath)
	if cursor >= o.w.Offset() {
		return 0, o.reset()
	}

	r, err := wal.OpenReader(o.path, cursor, wal.ReaderOptions{AllowTruncatedTail: true})
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err := r.Scan(func(payload []byte, next int64) error {
		var recs []domain.TransactionRecord
		if err := json.Unmarshal(payload, &recs); err != nil {
			return fmt.Errorf("decode outbox record at %d: %w", cursor, err)
		}
		if err := fn(recs); err != nil {
			return err
		}
		cursor = next
		return storeCursor(o.cursorPath, cursor)
	})
	if err != nil {
		return n, err
	}

	if cursor >= o.w.Offset() {
		return n, o.reset()
	}
	return n, nil
}

// reset 先把游标归零再清空文件，中途崩溃最多重放一遍（插入是幂等的）
func (o *Outbox) reset() error {
	if err := storeCursor(o.cursorPath, 0); err != nil {
		return err
	}
	return o.w.Reset()
}

func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Close()
}

func loadCursor(path string) int64 {
	b, err := os.ReadFile(path)
	if err != nil || len(b) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b[:8]))
}

func storeCursor(path string, off int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(off))

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b[:], 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
