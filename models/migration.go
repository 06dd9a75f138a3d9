package models

import (
	"context"

	"github.com/mmdatafocus/bills_backend/utils"
	"gorm.io/gorm"
)

// MigrateTable creates or updates the bills, deleted_bills and
// bill_histories tables.
func MigrateTable(db *gorm.DB) error {
	return db.WithContext(utils.WithoutOwnerScope(context.Background())).AutoMigrate(
		&Bill{}, &DeletedBill{},
		&BillHistory{},
	)
}
