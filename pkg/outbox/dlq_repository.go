package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderdesk/pkg/db/models"
	"github.com/angelmondragon/orderdesk/pkg/enums"
)

// DLQRepository stores outbox rows that will never be published.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// DLQTally counts dead-lettered rows per reason.
type DLQTally map[enums.OutboxDLQErrorReason]int64

func (t DLQTally) Total() int64 {
	var n int64
	for _, c := range t {
		n += c
	}
	return n
}

// InsertTx must run in the transaction that marks the source row terminal.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !entry.ErrorReason.IsValid() {
		return errors.New("unknown dlq reason " + string(entry.ErrorReason))
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := clip(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// TallySince groups rows dead-lettered at or after since by reason.
func (r *DLQRepository) TallySince(ctx context.Context, since time.Time) (DLQTally, error) {
	var rows []struct {
		ErrorReason enums.OutboxDLQErrorReason
		N           int64
	}
	err := r.db.WithContext(ctx).Model(&models.OutboxDLQ{}).
		Select("error_reason, COUNT(*) AS n").
		Where("failed_at >= ?", since).
		Group("error_reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	tally := make(DLQTally, len(rows))
	for _, row := range rows {
		tally[row.ErrorReason] = row.N
	}
	return tally, nil
}
