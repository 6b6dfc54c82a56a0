package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/xerr"
)

type Assets struct{ *Repo }

var _ domain.AssetRegistry = (*Assets)(nil)

func (a *Assets) List(ctx context.Context) ([]string, error) {
	var out []string
	if err := a.getDb(ctx).Model(&AssetRow{}).Order("seq ASC").Pluck("asset", &out).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list assets failed")
	}
	return out, nil
}

func (a *Assets) Contains(ctx context.Context, asset string) (bool, error) {
	var n int64
	if err := a.getDb(ctx).Model(&AssetRow{}).Where("asset = ?", asset).Count(&n).Error; err != nil {
		return false, xerr.Wrap(err, xerr.DbError, "query asset failed")
	}
	return n > 0, nil
}

func (a *Assets) Add(ctx context.Context, asset string) (bool, error) {
	res := a.getDb(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset"}},
		DoNothing: true,
	}).Create(&AssetRow{Asset: asset, CreatedAt: time.Now().UTC()})
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "add asset failed")
	}
	return res.RowsAffected == 1, nil
}
