package models

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/bills_backend/config"
	"github.com/mmdatafocus/bills_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("bills_backend/models")

const (
	billsTable        = "bills"
	deletedBillsTable = "deleted_bills"

	saveLockTTL = 10 * time.Second
)

type UpdateResult struct {
	ID int `json:"id"`
}

type DeleteResult struct {
	ID        int `json:"id"`
	DeletedId int `json:"deletedId"`
}

type RestoreResult struct {
	ID int `json:"id"`
}

// BillManager owns the bill lifecycle: save, update, soft delete, restore and
// purge. Every operation is scoped to one owner id and every write runs in a
// single transaction together with its audit row.
type BillManager struct {
	db           *gorm.DB
	redis        *config.Redis
	codec        *BillCodec
	logger       *logrus.Logger
	listCacheTTL time.Duration
	now          func() time.Time
}

// NewBillManager wires the manager. rdb may be nil; the list cache and the
// save lock are then skipped.
func NewBillManager(db *gorm.DB, rdb *config.Redis, codec *BillCodec, listCacheTTL time.Duration) *BillManager {
	if codec == nil {
		codec = NewBillCodec(utils.CountryCode, 0)
	}
	return &BillManager{
		db:           db,
		redis:        rdb,
		codec:        codec,
		logger:       config.GetLogger(),
		listCacheTTL: listCacheTTL,
		now:          time.Now,
	}
}

func (m *BillManager) Codec() *BillCodec {
	return m.codec
}

// Save upserts a bill keyed on (owner, estimateNo): an existing row has every
// mutable column replaced, otherwise a new row is inserted.
func (m *BillManager) Save(ctx context.Context, ownerId string, input *BillInput) (result *SaveResult, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.Save", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return nil, err
	}
	values, err := normalizeBillInput(input)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("bill.estimate_no", values.EstimateNo))

	release := m.lockBill(ctx, ownerId, values.EstimateNo)
	defer release()

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Bill
		lookupErr := tx.Where("owner_id = ? AND estimate_no = ?", ownerId, values.EstimateNo).First(&existing).Error
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			bill := &Bill{OwnerId: ownerId}
			values.applyTo(bill)
			if err := tx.Create(bill).Error; err != nil {
				return err
			}
			result = &SaveResult{Action: SaveActionInserted, ID: bill.ID}
			return createHistory(tx, ownerId, HistoryActionInserted, bill.ID, billsTable, bill.EstimateNo, nil, bill)
		}
		if lookupErr != nil {
			return lookupErr
		}

		after := existing
		values.applyTo(&after)
		if err := tx.Model(&Bill{}).Where("id = ?", existing.ID).Updates(values.columns()).Error; err != nil {
			return err
		}
		result = &SaveResult{Action: SaveActionUpdated, ID: existing.ID}
		return createHistory(tx, ownerId, HistoryActionUpdated, existing.ID, billsTable, existing.EstimateNo, &existing, &after)
	})
	if err != nil {
		config.LogError(m.logger, "BillManager", "Save", "saving bill", values.EstimateNo, err)
		return nil, err
	}
	m.invalidateLists(ctx, ownerId)
	return result, nil
}

// List returns the owner's active bills, most recently updated first.
func (m *BillManager) List(ctx context.Context, ownerId string, page Page) (bills []*WireBill, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.List", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return nil, err
	}
	gen, cacheable := m.listGeneration(ctx, ownerId)
	cacheKey := utils.BillListKey(ownerId, gen, page.Limit, page.Offset)
	if cacheable && m.readListCache(ctx, cacheKey, &bills) {
		return bills, nil
	}

	var rows []*Bill
	db := m.db.WithContext(ctx).
		Where("owner_id = ?", ownerId).
		Order("updated_at DESC").Order("created_at DESC").Order("id DESC")
	if err = page.apply(db).Find(&rows).Error; err != nil {
		return nil, err
	}
	bills = make([]*WireBill, 0, len(rows))
	for _, row := range rows {
		bills = append(bills, m.codec.ToWireBill(row))
	}
	if cacheable {
		m.writeListCache(ctx, ownerId, cacheKey, bills)
	}
	return bills, nil
}

// GetByEstimateNo returns one active bill or a NotFoundError.
func (m *BillManager) GetByEstimateNo(ctx context.Context, ownerId string, estimateNo string) (bill *WireBill, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.GetByEstimateNo", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return nil, err
	}
	estimateNo = strings.TrimSpace(estimateNo)
	if estimateNo == "" {
		return nil, NewValidationError("estimateNo", "is required")
	}
	var row Bill
	err = m.db.WithContext(ctx).Where("owner_id = ? AND estimate_no = ?", ownerId, estimateNo).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "bill", Key: estimateNo}
	}
	if err != nil {
		return nil, err
	}
	return m.codec.ToWireBill(&row), nil
}

// Update merges patch over the stored bill and rewrites every column.
func (m *BillManager) Update(ctx context.Context, ownerId string, estimateNo string, patch *BillPatch) (result *UpdateResult, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.Update", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return nil, err
	}
	estimateNo = strings.TrimSpace(estimateNo)
	if estimateNo == "" {
		return nil, NewValidationError("estimateNo", "is required")
	}
	if patch == nil {
		return nil, NewValidationError("updates", "is required")
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Bill
		lookupErr := tx.Where("owner_id = ? AND estimate_no = ?", ownerId, estimateNo).First(&existing).Error
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "bill", Key: estimateNo}
		}
		if lookupErr != nil {
			return lookupErr
		}

		values := valuesFromBill(&existing)
		values.merge(patch)
		if err := values.validate(); err != nil {
			return err
		}
		after := existing
		values.applyTo(&after)
		if err := tx.Model(&Bill{}).Where("id = ?", existing.ID).Updates(values.columns()).Error; err != nil {
			return err
		}
		result = &UpdateResult{ID: existing.ID}
		return createHistory(tx, ownerId, HistoryActionUpdated, existing.ID, billsTable, existing.EstimateNo, &existing, &after)
	})
	if err != nil {
		if !IsNotFound(err) && !IsValidation(err) {
			config.LogError(m.logger, "BillManager", "Update", "updating bill", estimateNo, err)
		}
		return nil, err
	}
	m.invalidateLists(ctx, ownerId)
	return result, nil
}

// SoftDelete moves the active bill into deleted_bills. The insert and the
// delete commit together or not at all.
func (m *BillManager) SoftDelete(ctx context.Context, ownerId string, estimateNo string) (result *DeleteResult, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.SoftDelete", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return nil, err
	}
	estimateNo = strings.TrimSpace(estimateNo)
	if estimateNo == "" {
		return nil, NewValidationError("estimateNo", "is required")
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Bill
		lookupErr := tx.Where("owner_id = ? AND estimate_no = ?", ownerId, estimateNo).First(&existing).Error
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "bill", Key: estimateNo}
		}
		if lookupErr != nil {
			return lookupErr
		}

		deleted := newDeletedBill(&existing, m.now().UTC())
		if err := tx.Create(deleted).Error; err != nil {
			return err
		}
		res := tx.Where("owner_id = ?", ownerId).Delete(&Bill{}, existing.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// removed concurrently; drop the copy we just wrote
			return &NotFoundError{Resource: "bill", Key: estimateNo}
		}
		result = &DeleteResult{ID: existing.ID, DeletedId: deleted.ID}
		return createHistory(tx, ownerId, HistoryActionDeleted, existing.ID, billsTable, existing.EstimateNo, &existing, deleted)
	})
	if err != nil {
		if !IsNotFound(err) {
			config.LogError(m.logger, "BillManager", "SoftDelete", "deleting bill", estimateNo, err)
		}
		return nil, err
	}
	m.invalidateLists(ctx, ownerId)
	return result, nil
}

// ListDeleted returns the owner's deleted bills, most recently deleted first.
func (m *BillManager) ListDeleted(ctx context.Context, ownerId string, page Page) (bills []*WireDeletedBill, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.ListDeleted", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return nil, err
	}
	gen, cacheable := m.listGeneration(ctx, ownerId)
	cacheKey := utils.DeletedBillListKey(ownerId, gen, page.Limit, page.Offset)
	if cacheable && m.readListCache(ctx, cacheKey, &bills) {
		return bills, nil
	}

	var rows []*DeletedBill
	db := m.db.WithContext(ctx).
		Where("owner_id = ?", ownerId).
		Order("deleted_at DESC").Order("id DESC")
	if err = page.apply(db).Find(&rows).Error; err != nil {
		return nil, err
	}
	bills = make([]*WireDeletedBill, 0, len(rows))
	for _, row := range rows {
		bills = append(bills, m.codec.ToWireDeletedBill(row))
	}
	if cacheable {
		m.writeListCache(ctx, ownerId, cacheKey, bills)
	}
	return bills, nil
}

// Restore moves a deleted bill back under a fresh id. It fails with a
// ConflictError while an active bill holds the same estimateNo.
func (m *BillManager) Restore(ctx context.Context, ownerId string, deletedId int) (result *RestoreResult, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.Restore", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return nil, err
	}
	if deletedId <= 0 {
		return nil, NewValidationError("id", "is required")
	}
	key := strconv.Itoa(deletedId)

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deleted DeletedBill
		lookupErr := tx.Where("owner_id = ?", ownerId).First(&deleted, deletedId).Error
		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "deleted bill", Key: key}
		}
		if lookupErr != nil {
			return lookupErr
		}

		var active int64
		if err := tx.Model(&Bill{}).Where("owner_id = ? AND estimate_no = ?", ownerId, deleted.EstimateNo).Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return &ConflictError{Resource: "bill", Key: deleted.EstimateNo, Reason: "delete or rename the active bill before restoring"}
		}

		bill := deleted.toBill()
		if err := tx.Create(bill).Error; err != nil {
			return err
		}
		res := tx.Where("owner_id = ?", ownerId).Delete(&DeletedBill{}, deleted.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &NotFoundError{Resource: "deleted bill", Key: key}
		}
		result = &RestoreResult{ID: bill.ID}
		return createHistory(tx, ownerId, HistoryActionRestored, bill.ID, billsTable, bill.EstimateNo, &deleted, bill)
	})
	if err != nil {
		if !IsNotFound(err) && !IsConflict(err) {
			config.LogError(m.logger, "BillManager", "Restore", "restoring bill", deletedId, err)
		}
		return nil, err
	}
	m.invalidateLists(ctx, ownerId)
	return result, nil
}

// Purge removes a deleted bill for good. The owner filter is part of the
// DELETE itself; zero affected rows means not found.
func (m *BillManager) Purge(ctx context.Context, ownerId string, deletedId int) (err error) {
	ctx, span := m.startSpan(ctx, "BillManager.Purge", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return err
	}
	if deletedId <= 0 {
		return NewValidationError("id", "is required")
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("owner_id = ?", ownerId).Delete(&DeletedBill{}, deletedId)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &NotFoundError{Resource: "deleted bill", Key: strconv.Itoa(deletedId)}
		}
		return createHistory(tx, ownerId, HistoryActionPurged, deletedId, deletedBillsTable, "", nil, nil)
	})
	if err != nil {
		if !IsNotFound(err) {
			config.LogError(m.logger, "BillManager", "Purge", "purging deleted bill", deletedId, err)
		}
		return err
	}
	m.invalidateLists(ctx, ownerId)
	return nil
}

// PurgeDeletedBefore removes the owner's deleted bills whose deletion is
// older than cutoff and returns how many were removed.
func (m *BillManager) PurgeDeletedBefore(ctx context.Context, ownerId string, cutoff time.Time) (purged int64, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.PurgeDeletedBefore", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return 0, err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("owner_id = ? AND deleted_at < ?", ownerId, cutoff.UTC()).Delete(&DeletedBill{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		if purged == 0 {
			return nil
		}
		return createHistory(tx, ownerId, HistoryActionPurged, 0, deletedBillsTable, "", nil,
			map[string]interface{}{"deletedBefore": cutoff.UTC(), "count": purged})
	})
	if err != nil {
		config.LogError(m.logger, "BillManager", "PurgeDeletedBefore", "purging deleted bills", cutoff, err)
		return 0, err
	}
	if purged > 0 {
		m.invalidateLists(ctx, ownerId)
	}
	return purged, nil
}

// lockBill takes a best-effort redis lock around save's lookup-then-write.
// Without redis, or when the lock is busy, save proceeds unlocked.
func (m *BillManager) lockBill(ctx context.Context, ownerId string, estimateNo string) func() {
	locker := m.redis.Locker()
	if locker == nil {
		return func() {}
	}
	lock, err := locker.Obtain(ctx, utils.BillLockKey(ownerId, estimateNo), saveLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	})
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"field":       "BillManager.lockBill",
			"owner_id":    ownerId,
			"estimate_no": estimateNo,
		}).Warn("could not obtain redis lock; proceeding without redis lock: " + err.Error())
		return func() {}
	}
	return func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			m.logger.WithFields(logrus.Fields{
				"field":       "BillManager.lockBill",
				"owner_id":    ownerId,
				"estimate_no": estimateNo,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}

// listGeneration must be read before the list query: a page is only cached
// under the generation that was current when its rows were read.
func (m *BillManager) listGeneration(ctx context.Context, ownerId string) (int64, bool) {
	if m.redis == nil || m.listCacheTTL <= 0 {
		return 0, false
	}
	gen, err := utils.ListGeneration(ctx, m.redis, ownerId)
	if err != nil {
		m.logger.WithField("owner_id", ownerId).Warn("reading list cache generation: " + err.Error())
		return 0, false
	}
	return gen, true
}

func (m *BillManager) readListCache(ctx context.Context, key string, dest any) bool {
	if m.redis == nil || m.listCacheTTL <= 0 {
		return false
	}
	hit, err := utils.GetRedisList(ctx, m.redis, key, dest)
	if err != nil {
		m.logger.WithField("key", key).Warn("reading list cache: " + err.Error())
		return false
	}
	return hit
}

func (m *BillManager) writeListCache(ctx context.Context, ownerId string, key string, obj any) {
	if m.redis == nil || m.listCacheTTL <= 0 {
		return
	}
	if err := utils.StoreRedisList(ctx, m.redis, ownerId, key, obj, m.listCacheTTL); err != nil {
		m.logger.WithField("key", key).Warn("writing list cache: " + err.Error())
	}
}

func (m *BillManager) invalidateLists(ctx context.Context, ownerId string) {
	if m.redis == nil {
		return
	}
	if err := utils.ClearListCache(context.WithoutCancel(ctx), m.redis, ownerId); err != nil {
		config.LogError(m.logger, "BillManager", "invalidateLists", "clearing list cache", ownerId, err)
	}
}

// startSpan opens a span and scopes the context to ownerId so the owner
// guard covers every statement issued below it.
func (m *BillManager) startSpan(ctx context.Context, name string, ownerId string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.String("bill.owner_id", ownerId)))
	if ownerId != "" {
		ctx = utils.SetOwnerIdInContext(ctx, ownerId)
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
