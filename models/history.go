package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/bills_backend/utils"
	"gorm.io/gorm"
)

type HistoryAction string

const (
	HistoryActionInserted HistoryAction = "inserted"
	HistoryActionUpdated  HistoryAction = "updated"
	HistoryActionDeleted  HistoryAction = "deleted"
	HistoryActionRestored HistoryAction = "restored"
	HistoryActionPurged   HistoryAction = "purged"
)

// BillHistory is the append-only audit trail of lifecycle actions. Rows are
// written in the same transaction as the change they describe.
type BillHistory struct {
	ID            int           `gorm:"primary_key" json:"id"`
	OwnerId       string        `gorm:"size:100;index;not null" json:"owner_id"`
	Action        HistoryAction `gorm:"size:20;not null" json:"action"`
	ReferenceID   int           `gorm:"index" json:"reference_id"`
	ReferenceType string        `gorm:"size:50" json:"reference_type"`
	EstimateNo    string        `gorm:"size:100" json:"estimate_no"`
	Before        string        `gorm:"type:text" json:"before"`
	After         string        `gorm:"type:text" json:"after"`
	CorrelationId string        `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	ownerId string,
	action HistoryAction,
	referenceId int,
	referenceType string,
	estimateNo string,
	before interface{},
	after interface{}) error {

	history := BillHistory{
		OwnerId:       ownerId,
		Action:        action,
		ReferenceID:   referenceId,
		ReferenceType: referenceType,
		EstimateNo:    estimateNo,
		Before:        snapshot(before),
		After:         snapshot(after),
		CorrelationId: correlationIdFromContext(tx.Statement.Context),
	}
	return tx.Create(&history).Error
}

func snapshot(v interface{}) string {
	if v == nil {
		return ""
	}
	s, err := utils.MarshalToJSON(v)
	if err != nil {
		return ""
	}
	return s
}

func correlationIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := utils.GetCorrelationIdFromContext(ctx)
	return id
}

// ListHistory returns the owner's audit rows, newest first.
func (m *BillManager) ListHistory(ctx context.Context, ownerId string, estimateNo string, page Page) (rows []*BillHistory, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.ListHistory", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return nil, err
	}
	db := m.db.WithContext(ctx).Where("owner_id = ?", ownerId)
	if estimateNo != "" {
		db = db.Where("estimate_no = ?", estimateNo)
	}
	if err = page.apply(db.Order("created_at DESC").Order("id DESC")).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
