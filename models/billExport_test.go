package models

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestExportWritesOneRowPerBill(t *testing.T) {
	m, mock := newTestManager(t, nil)
	mock.ExpectQuery("SELECT \\* FROM `bills` WHERE owner_id = \\? ORDER BY updated_at DESC").
		WithArgs(testOwner).
		WillReturnRows(sqlmock.NewRows(billColumns).
			AddRow(billRow(2, "EST-2", "Globex")...).
			AddRow(billRow(1, "EST-1", "Acme")...))

	f, err := m.Export(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "EstimateNo" || rows[0][len(exportHeaders)-1] != "UpdatedAt" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "EST-2" || rows[1][1] != "Globex" || rows[2][0] != "EST-1" {
		t.Fatalf("data rows = %v", rows[1:])
	}
	if rows[1][10] != "2024-03-06 10:00:00" {
		t.Fatalf("updatedAt = %q", rows[1][10])
	}
	expectMet(t, mock)
}

func TestListHistoryFiltersByEstimateNo(t *testing.T) {
	m, mock := newTestManager(t, nil)
	mock.ExpectQuery("SELECT \\* FROM `bill_histories` WHERE owner_id = \\? AND estimate_no = \\? ORDER BY created_at DESC,id DESC LIMIT 5").
		WithArgs(testOwner, "EST-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "action", "reference_id", "reference_type", "estimate_no", "created_at"}).
			AddRow(2, testOwner, "deleted", 4, "bills", "EST-1", testTime).
			AddRow(1, testOwner, "inserted", 4, "bills", "EST-1", testTime))

	rows, err := m.ListHistory(context.Background(), testOwner, "EST-1", ParsePage("5", ""))
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(rows) != 2 || rows[0].Action != HistoryActionDeleted || rows[1].ReferenceID != 4 {
		t.Fatalf("rows = %+v", rows)
	}
	if _, err := m.ListHistory(context.Background(), "", "", Page{}); err == nil {
		t.Fatal("ListHistory without owner succeeded")
	}
	expectMet(t, mock)
}
