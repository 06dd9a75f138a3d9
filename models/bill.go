package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bill is an active billing record. (owner_id, estimate_no) identifies at
// most one row; the rule is kept by lookup-before-write, not by the index.
type Bill struct {
	ID            int             `gorm:"primary_key" json:"id"`
	OwnerId       string          `gorm:"size:100;not null;index:idx_bills_owner_estimate,priority:1" json:"owner_id"`
	EstimateNo    string          `gorm:"size:100;not null;index:idx_bills_owner_estimate,priority:2" json:"estimate_no"`
	CustomerName  string          `gorm:"size:255;not null" json:"customer_name"`
	CustomerPhone string          `gorm:"size:50;default:null" json:"customer_phone"`
	BillDate      *time.Time      `gorm:"type:date;default:null" json:"bill_date"`
	Items         string          `gorm:"type:longtext" json:"items"`
	SubTotal      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"sub_total"`
	Discount      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`
	GrandTotal    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"grand_total"`
	Received      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"received"`
	Balance       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`
	AmountWords   string          `gorm:"type:text;default:null" json:"amount_words"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// DeletedBill is a soft-deleted copy of a Bill. Several rows may share an
// estimate_no when the same bill was deleted more than once.
type DeletedBill struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OriginalBillId int             `gorm:"index;not null" json:"original_bill_id"`
	OwnerId        string          `gorm:"size:100;not null;index:idx_deleted_bills_owner_deleted,priority:1" json:"owner_id"`
	EstimateNo     string          `gorm:"size:100;not null;index" json:"estimate_no"`
	CustomerName   string          `gorm:"size:255;not null" json:"customer_name"`
	CustomerPhone  string          `gorm:"size:50;default:null" json:"customer_phone"`
	BillDate       *time.Time      `gorm:"type:date;default:null" json:"bill_date"`
	Items          string          `gorm:"type:longtext" json:"items"`
	SubTotal       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"sub_total"`
	Discount       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`
	GrandTotal     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"grand_total"`
	Received       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"received"`
	Balance        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`
	AmountWords    string          `gorm:"type:text;default:null" json:"amount_words"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeletedAt      time.Time       `gorm:"not null;index:idx_deleted_bills_owner_deleted,priority:2" json:"deleted_at"`
}

// BillInput is the save-bill request body. Loosely typed fields accept
// whatever legacy clients send; they are normalized before storage.
type BillInput struct {
	EstimateNo    any `json:"estimateNo"`
	CustomerName  any `json:"customerName"`
	CustomerPhone any `json:"customerPhone"`
	BillDate      any `json:"billDate"`
	Items         any `json:"items"`
	SubTotal      any `json:"subTotal"`
	Discount      any `json:"discount"`
	GrandTotal    any `json:"grandTotal"`
	Received      any `json:"received"`
	Balance       any `json:"balance"`
	AmountWords   any `json:"amountWords"`
}

// BillPatch carries the fields of an update-bill request. A nil field keeps
// the stored value; estimateNo is the lookup key and cannot be patched.
type BillPatch struct {
	CustomerName  *string `json:"customerName"`
	CustomerPhone *string `json:"customerPhone"`
	// empty string clears the date
	BillDate    *string `json:"billDate"`
	Items       any     `json:"items"`
	SubTotal    any     `json:"subTotal"`
	Discount    any     `json:"discount"`
	GrandTotal  any     `json:"grandTotal"`
	Received    any     `json:"received"`
	Balance     any     `json:"balance"`
	AmountWords *string `json:"amountWords"`
}

// billValues is the normalized, storage-ready form shared by save and update.
type billValues struct {
	EstimateNo    string `json:"estimateNo" validate:"required"`
	CustomerName  string `json:"customerName" validate:"required"`
	CustomerPhone string
	BillDate      *time.Time
	Items         string
	SubTotal      decimal.Decimal
	Discount      decimal.Decimal
	GrandTotal    decimal.Decimal
	Received      decimal.Decimal
	Balance       decimal.Decimal
	AmountWords   string
}

// WireBill is the camelCase shape returned to clients.
type WireBill struct {
	ID                int       `json:"id"`
	EstimateNo        string    `json:"estimateNo"`
	CustomerName      string    `json:"customerName"`
	CustomerPhone     string    `json:"customerPhone"`
	CustomerPhoneE164 string    `json:"customerPhoneE164"`
	BillDate          *string   `json:"billDate"`
	Items             any       `json:"items"`
	SubTotal          float64   `json:"subTotal"`
	Discount          float64   `json:"discount"`
	GrandTotal        float64   `json:"grandTotal"`
	Received          float64   `json:"received"`
	Balance           float64   `json:"balance"`
	AmountWords       string    `json:"amountWords"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	BillData          string    `json:"billData"`
}

type WireDeletedBill struct {
	WireBill
	OriginalBillId int       `json:"originalBillId"`
	DeletedAt      time.Time `json:"deletedAt"`
}

type SaveAction string

const (
	SaveActionInserted SaveAction = "inserted"
	SaveActionUpdated  SaveAction = "updated"
)

type SaveResult struct {
	Action SaveAction `json:"action"`
	ID     int        `json:"id"`
}

// applyTo copies normalized values over the mutable columns of b.
func (v *billValues) applyTo(b *Bill) {
	b.EstimateNo = v.EstimateNo
	b.CustomerName = v.CustomerName
	b.CustomerPhone = v.CustomerPhone
	b.BillDate = v.BillDate
	b.Items = v.Items
	b.SubTotal = v.SubTotal
	b.Discount = v.Discount
	b.GrandTotal = v.GrandTotal
	b.Received = v.Received
	b.Balance = v.Balance
	b.AmountWords = v.AmountWords
}

// columns returns every mutable column for a full-replace UPDATE.
func (v *billValues) columns() map[string]interface{} {
	return map[string]interface{}{
		"estimate_no":    v.EstimateNo,
		"customer_name":  v.CustomerName,
		"customer_phone": v.CustomerPhone,
		"bill_date":      v.BillDate,
		"items":          v.Items,
		"sub_total":      v.SubTotal,
		"discount":       v.Discount,
		"grand_total":    v.GrandTotal,
		"received":       v.Received,
		"balance":        v.Balance,
		"amount_words":   v.AmountWords,
	}
}

func valuesFromBill(b *Bill) *billValues {
	return &billValues{
		EstimateNo:    b.EstimateNo,
		CustomerName:  b.CustomerName,
		CustomerPhone: b.CustomerPhone,
		BillDate:      b.BillDate,
		Items:         NormalizeItems(b.Items),
		SubTotal:      b.SubTotal,
		Discount:      b.Discount,
		GrandTotal:    b.GrandTotal,
		Received:      b.Received,
		Balance:       b.Balance,
		AmountWords:   b.AmountWords,
	}
}

func (d *DeletedBill) toBill() *Bill {
	return &Bill{
		OwnerId:       d.OwnerId,
		EstimateNo:    d.EstimateNo,
		CustomerName:  d.CustomerName,
		CustomerPhone: d.CustomerPhone,
		BillDate:      d.BillDate,
		Items:         NormalizeItems(d.Items),
		SubTotal:      d.SubTotal,
		Discount:      d.Discount,
		GrandTotal:    d.GrandTotal,
		Received:      d.Received,
		Balance:       d.Balance,
		AmountWords:   d.AmountWords,
		CreatedAt:     d.CreatedAt,
	}
}

func newDeletedBill(b *Bill, deletedAt time.Time) *DeletedBill {
	return &DeletedBill{
		OriginalBillId: b.ID,
		OwnerId:        b.OwnerId,
		EstimateNo:     b.EstimateNo,
		CustomerName:   b.CustomerName,
		CustomerPhone:  b.CustomerPhone,
		BillDate:       b.BillDate,
		Items:          NormalizeItems(b.Items),
		SubTotal:       b.SubTotal,
		Discount:       b.Discount,
		GrandTotal:     b.GrandTotal,
		Received:       b.Received,
		Balance:        b.Balance,
		AmountWords:    b.AmountWords,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		DeletedAt:      deletedAt,
	}
}
