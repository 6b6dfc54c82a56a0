package settlement

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/xerr"
)

// Simulated 进程内的结算层，本地开发和测试用
// 提交后状态为 pending，需要调用 Resolve（或 AutoConfirm）推进
type Simulated struct {
	mu          sync.Mutex
	admin       string
	adminErr    error
	submitErr   error
	autoConfirm bool
	seq         uint64
	height      uint64
	ops         map[string]*simOp
	order       []string
	assets      map[string]domain.AssetInfo
	native      domain.AssetInfo
}

type simOp struct {
	op     domain.Operation
	report domain.StatusReport
}

var (
	_ domain.SettlementAdapter = (*Simulated)(nil)
	_ domain.AssetDescriber    = (*Simulated)(nil)
	_ domain.IdentityReporter  = (*Simulated)(nil)
)

func NewSimulated(admin string, native domain.AssetInfo) *Simulated {
	native.Asset = domain.NativeAsset
	return &Simulated{
		admin:  domain.NormalizeOwner(admin),
		ops:    make(map[string]*simOp),
		assets: make(map[string]domain.AssetInfo),
		native: native,
	}
}

func (s *Simulated) Submit(ctx context.Context, op domain.Operation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.seq)
	handle := crypto.Keccak256Hash(buf[:], []byte(op.Kind), []byte(op.Owner)).Hex()

	rec := &simOp{op: op, report: domain.StatusReport{Status: domain.StatusPending}}
	if s.autoConfirm {
		s.height++
		rec.report = domain.StatusReport{
			Status: domain.StatusSuccess,
			Block:  &domain.BlockInfo{Number: s.height, Hash: crypto.Keccak256Hash([]byte(handle)).Hex()},
		}
	}
	s.ops[handle] = rec
	s.order = append(s.order, handle)
	return handle, nil
}

func (s *Simulated) AdminIdentity(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminErr != nil {
		return "", s.adminErr
	}
	return s.admin, nil
}

func (s *Simulated) Status(ctx context.Context, handle string) (domain.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.ops[handle]
	if !ok {
		return domain.StatusReport{}, xerr.New(xerr.RecordNotFound, "unknown settlement handle")
	}
	return rec.report, nil
}

func (s *Simulated) Describe(ctx context.Context, asset string) (domain.AssetInfo, error) {
	if domain.IsNative(asset) {
		return s.native, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.assets[domain.NormalizeAsset(asset)]
	if !ok {
		return domain.AssetInfo{}, xerr.New(xerr.RecordNotFound, "unknown asset")
	}
	return info, nil
}

func (s *Simulated) Identity() domain.LedgerIdentity {
	return domain.LedgerIdentity{Kind: "simulated"}
}

// ---- 测试 / 运维控制 ----

func (s *Simulated) SetAdmin(admin string) {
	s.mu.Lock()
	s.admin = domain.NormalizeOwner(admin)
	s.mu.Unlock()
}

// FailAdmin 模拟 admin 查询失败，nil 恢复
func (s *Simulated) FailAdmin(err error) {
	s.mu.Lock()
	s.adminErr = err
	s.mu.Unlock()
}

// FailSubmits 模拟结算层不可用，nil 恢复
func (s *Simulated) FailSubmits(err error) {
	s.mu.Lock()
	s.submitErr = err
	s.mu.Unlock()
}

// AutoConfirm 打开后新提交直接 success
func (s *Simulated) AutoConfirm(on bool) {
	s.mu.Lock()
	s.autoConfirm = on
	s.mu.Unlock()
}

func (s *Simulated) RegisterAsset(info domain.AssetInfo) {
	s.mu.Lock()
	info.Asset = domain.NormalizeAsset(info.Asset)
	s.assets[info.Asset] = info
	s.mu.Unlock()
}

// Resolve 把某个 handle 推到终态
func (s *Simulated) Resolve(handle string, status domain.TxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.ops[handle]
	if !ok {
		return xerr.New(xerr.RecordNotFound, "unknown settlement handle")
	}
	s.height++
	rec.report = domain.StatusReport{
		Status: status,
		Block:  &domain.BlockInfo{Number: s.height, Hash: crypto.Keccak256Hash([]byte(handle)).Hex()},
	}
	return nil
}

// Submitted 按提交顺序返回所有操作
func (s *Simulated) Submitted() []domain.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Operation, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.ops[h].op)
	}
	return out
}
