package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/orm"
	"custodex.com/pkg/xerr"
)

type Records struct{ *Repo }

var _ domain.RecordRepo = (*Records)(nil)

// Insert 按 record_id 幂等，outbox 重放同一条记录不会重复
func (r *Records) Insert(ctx context.Context, recs ...*domain.TransactionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]RecordRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, toRow(rec))
	}
	err := r.getDb(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_id"}},
		DoNothing: true,
	}).Create(&rows).Error
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "insert records failed")
	}
	return nil
}

// Resolve 只动 pending 行，终态不可再改
func (r *Records) Resolve(ctx context.Context, externalID string, status domain.TxStatus, block *domain.BlockInfo, at time.Time) (int64, error) {
	updates := map[string]interface{}{
		"status":      string(status),
		"resolved_at": at,
	}
	if block != nil {
		updates["block_number"] = block.Number
		updates["block_hash"] = block.Hash
	}
	res := r.getDb(ctx).Model(&RecordRow{}).
		Where("external_id = ? AND status = ?", externalID, string(domain.StatusPending)).
		Updates(updates)
	if res.Error != nil {
		return 0, xerr.Wrap(res.Error, xerr.DbError, "resolve records failed")
	}
	return res.RowsAffected, nil
}

func (r *Records) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]domain.TransactionRecord, error) {
	var rows []RecordRow
	q := r.getDb(ctx).Where("owner = ?", owner).Order("seq DESC")
	if err := orm.ApplyOffset(q, limit, offset).Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list records failed")
	}
	return toDomainList(rows), nil
}

func (r *Records) ListByExternalID(ctx context.Context, externalID string) ([]domain.TransactionRecord, error) {
	var rows []RecordRow
	if err := r.getDb(ctx).Where("external_id = ?", externalID).Order("leg ASC").Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list records failed")
	}
	return toDomainList(rows), nil
}

func (r *Records) ListByAsset(ctx context.Context, kind domain.TxKind, asset string) ([]domain.TransactionRecord, error) {
	var rows []RecordRow
	if err := r.getDb(ctx).Where("asset = ? AND kind = ?", asset, string(kind)).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list records failed")
	}
	return toDomainList(rows), nil
}

func (r *Records) ListPending(ctx context.Context, limit, offset int) ([]domain.TransactionRecord, error) {
	var rows []RecordRow
	q := r.getDb(ctx).Where("status = ?", string(domain.StatusPending)).Order("seq ASC")
	if err := orm.ApplyOffset(q, limit, offset).Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list pending records failed")
	}
	return toDomainList(rows), nil
}

func toDomainList(rows []RecordRow) []domain.TransactionRecord {
	out := make([]domain.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}
