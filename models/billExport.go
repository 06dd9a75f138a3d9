package models

import (
	"context"

	"github.com/mmdatafocus/bills_backend/utils"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Bills"

var exportHeaders = []string{
	"EstimateNo", "CustomerName", "CustomerPhone", "BillDate",
	"SubTotal", "Discount", "GrandTotal", "Received", "Balance",
	"AmountWords", "UpdatedAt",
}

// Export writes every active bill of the owner into a single-sheet workbook,
// in the same order as List.
func (m *BillManager) Export(ctx context.Context, ownerId string) (f *excelize.File, err error) {
	ctx, span := m.startSpan(ctx, "BillManager.Export", ownerId)
	defer func() { endSpan(span, err) }()

	if err = requireOwner(ownerId); err != nil {
		return nil, err
	}
	var rows []*Bill
	err = m.db.WithContext(ctx).
		Where("owner_id = ?", ownerId).
		Order("updated_at DESC").Order("created_at DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	f = excelize.NewFile()
	if err = f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}
	for i, h := range exportHeaders {
		cell, cellErr := excelize.CoordinatesToCellName(i+1, 1)
		if cellErr != nil {
			return nil, cellErr
		}
		if err = f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, err
		}
	}
	for i, row := range rows {
		w := m.codec.ToWireBill(row)
		cell, cellErr := excelize.CoordinatesToCellName(1, i+2)
		if cellErr != nil {
			return nil, cellErr
		}
		values := []interface{}{
			w.EstimateNo, w.CustomerName, w.CustomerPhone, utils.DereferencePtr(w.BillDate, ""),
			w.SubTotal, w.Discount, w.GrandTotal, w.Received, w.Balance,
			w.AmountWords, w.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		if err = f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return nil, err
		}
	}
	return f, nil
}
