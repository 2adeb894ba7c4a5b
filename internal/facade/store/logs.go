package store

import (
	"context"
	"strconv"

	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"gorm.io/gorm"
)

type Logs struct {
	db *gorm.DB
}

func NewLogs(db *gorm.DB) *Logs { return &Logs{db: db} }

var _ facade.Logs = (*Logs)(nil)

func (l *Logs) Append(ctx context.Context, handle facade.ExecHandle, line string) error {
	row := models.FacadeLogEntry{JobHandle: string(handle), Line: line}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "facade logs append failed")
	}
	return nil
}

// Read returns up to limit lines with id > cursor (cursor "" means from
// the beginning), and the cursor to resume from on the next call.
func (l *Logs) Read(ctx context.Context, handle facade.ExecHandle, cursor string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = 500
	}
	afterID := int64(0)
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, "", appErr.New(appErr.CodeInvalid, "invalid log cursor")
		}
		afterID = v
	}

	var rows []models.FacadeLogEntry
	if err := l.db.WithContext(ctx).
		Where("job_handle = ? AND id > ?", string(handle), afterID).
		Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, "", appErr.Wrap(err, appErr.CodeInternal, "facade logs read failed")
	}

	lines := make([]string, len(rows))
	next := cursor
	for i, row := range rows {
		lines[i] = row.Line
		next = strconv.FormatInt(row.ID, 10)
	}
	return lines, next, nil
}
