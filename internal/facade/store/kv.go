// Package store implements the facade.KV and facade.Logs capabilities
// against postgres via gorm, grounded on the teacher's pkg/database +
// repository pattern. It backs the AWS, Azure and local facade variants —
// no DynamoDB SDK exists anywhere in the reference pack, so this stands
// in behind the same facade.KV interface until a real DynamoDB-backed
// implementation replaces it without touching any caller.
package store

import (
	"context"
	"encoding/json"

	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type KV struct {
	db *gorm.DB
}

func NewKV(db *gorm.DB) *KV { return &KV{db: db} }

var _ facade.KV = (*KV)(nil)

func marshalAttrs(attrs map[string]any) (datatypes.JSON, error) {
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "marshal attrs failed")
	}
	return datatypes.JSON(b), nil
}

func unmarshalAttrs(raw datatypes.JSON) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "unmarshal attrs failed")
	}
	return out, nil
}

func (k *KV) Put(ctx context.Context, item facade.KVItem) error {
	attrs, err := marshalAttrs(item.Attrs)
	if err != nil {
		return err
	}
	row := models.FacadeItem{PK: item.PK, SK: item.SK, Attrs: attrs, Version: item.Version}
	if err := k.db.WithContext(ctx).Save(&row).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "facade kv put failed")
	}
	return nil
}

func (k *KV) Get(ctx context.Context, pk, sk string) (*facade.KVItem, error) {
	var row models.FacadeItem
	if err := k.db.WithContext(ctx).Where("pk = ? AND sk = ?", pk, sk).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.New(appErr.CodeNotFound, "item not found")
		}
		return nil, appErr.Wrap(err, appErr.CodeInternal, "facade kv get failed")
	}
	attrs, err := unmarshalAttrs(row.Attrs)
	if err != nil {
		return nil, err
	}
	return &facade.KVItem{PK: row.PK, SK: row.SK, Attrs: attrs, Version: row.Version}, nil
}

func (k *KV) Delete(ctx context.Context, pk, sk string) error {
	if err := k.db.WithContext(ctx).Where("pk = ? AND sk = ?", pk, sk).Delete(&models.FacadeItem{}).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "facade kv delete failed")
	}
	return nil
}

func (k *KV) Query(ctx context.Context, pk, skPrefix string) ([]facade.KVItem, error) {
	var rows []models.FacadeItem
	q := k.db.WithContext(ctx).Where("pk = ?", pk)
	if skPrefix != "" {
		q = q.Where("sk LIKE ?", skPrefix+"%")
	}
	if err := q.Order("sk ASC").Find(&rows).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "facade kv query failed")
	}
	out := make([]facade.KVItem, 0, len(rows))
	for _, row := range rows {
		attrs, err := unmarshalAttrs(row.Attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, facade.KVItem{PK: row.PK, SK: row.SK, Attrs: attrs, Version: row.Version})
	}
	return out, nil
}

func (k *KV) ConditionalUpdate(ctx context.Context, pk, sk string, expectedVersion int64, mutate func(map[string]any) map[string]any) error {
	var row models.FacadeItem
	if err := k.db.WithContext(ctx).Where("pk = ? AND sk = ?", pk, sk).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "item not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "facade kv conditional_update read failed")
	}

	attrs, err := unmarshalAttrs(row.Attrs)
	if err != nil {
		return err
	}
	newAttrs, err := marshalAttrs(mutate(attrs))
	if err != nil {
		return err
	}

	res := k.db.WithContext(ctx).Model(&models.FacadeItem{}).
		Where("pk = ? AND sk = ? AND version = ?", pk, sk, expectedVersion).
		Updates(map[string]any{"attrs": newAttrs, "version": expectedVersion + 1})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "facade kv conditional_update failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeConflict, "conditional_update version mismatch")
	}
	return nil
}

func (k *KV) TransactWrite(ctx context.Context, ops []facade.KVItem) error {
	return k.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			attrs, err := marshalAttrs(op.Attrs)
			if err != nil {
				return err
			}
			row := models.FacadeItem{PK: op.PK, SK: op.SK, Attrs: attrs, Version: op.Version}
			if err := tx.Save(&row).Error; err != nil {
				return appErr.Wrap(err, appErr.CodeInternal, "facade kv transact_write failed")
			}
		}
		return nil
	})
}
