package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mmdatafocus/bills_backend/utils"
	"github.com/shopspring/decimal"
)

const emptyItems = "[]"

const billDateLayout = "2006-01-02"

// NormalizeItems returns the canonical text stored in the items column.
// Text is passed through verbatim, native values are serialized, and nil,
// JSON null or anything that fails to serialize becomes "[]". It never fails.
func NormalizeItems(v any) string {
	switch items := v.(type) {
	case nil:
		return emptyItems
	case string:
		return items
	case []byte:
		return string(items)
	case json.RawMessage:
		trimmed := bytes.TrimSpace(items)
		if len(trimmed) == 0 || string(trimmed) == "null" {
			return emptyItems
		}
		// a JSON string literal holds pre-serialized items
		if trimmed[0] == '"' {
			var s string
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return emptyItems
			}
			return s
		}
		return string(trimmed)
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return emptyItems
	}
	return string(b)
}

// ParseItems decodes stored items into native values. Native input is
// returned as is; empty, falsy or malformed input yields an empty slice.
func ParseItems(v any) any {
	switch items := v.(type) {
	case nil:
		return []any{}
	case string:
		return parseItemsText(items)
	case []byte:
		return parseItemsText(string(items))
	case json.RawMessage:
		return parseItemsText(string(items))
	case bool:
		if !items {
			return []any{}
		}
	case float64:
		if items == 0 {
			return []any{}
		}
	case int:
		if items == 0 {
			return []any{}
		}
	}
	return v
}

func parseItemsText(s string) any {
	if strings.TrimSpace(s) == "" {
		return []any{}
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return []any{}
	}
	return out
}

// CoerceNumber converts v to a finite float64. Numeric strings are parsed
// after trimming, booleans count as 1 and 0, and anything non-numeric or
// non-finite becomes 0. It never fails.
func CoerceNumber(v any) float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case decimal.Decimal:
		f = n.InexactFloat64()
	case *decimal.Decimal:
		if n == nil {
			return 0
		}
		f = n.InexactFloat64()
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// coerceMoney is CoerceNumber rounded to the column's two decimals.
func coerceMoney(v any) decimal.Decimal {
	return decimal.NewFromFloat(CoerceNumber(v)).Round(2)
}

// coerceText renders loosely typed text fields; nil becomes "".
func coerceText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// parseBillDate accepts "YYYY-MM-DD" or any timestamp starting with it.
// Empty or unparsable input means no date.
func parseBillDate(v any) *time.Time {
	s := strings.TrimSpace(coerceText(v))
	if len(s) < len(billDateLayout) {
		return nil
	}
	d, err := time.ParseInLocation(billDateLayout, s[:len(billDateLayout)], time.UTC)
	if err != nil {
		return nil
	}
	return &d
}

func formatBillDate(d *time.Time) *string {
	if d == nil || d.IsZero() {
		return nil
	}
	s := d.Format(billDateLayout)
	return &s
}

// normalizeBillInput trims, coerces and validates a save request.
func normalizeBillInput(in *BillInput) (*billValues, error) {
	if in == nil {
		return nil, NewValidationError("estimateNo", "is required")
	}
	v := &billValues{
		EstimateNo:    strings.TrimSpace(coerceText(in.EstimateNo)),
		CustomerName:  strings.TrimSpace(coerceText(in.CustomerName)),
		CustomerPhone: strings.TrimSpace(coerceText(in.CustomerPhone)),
		BillDate:      parseBillDate(in.BillDate),
		Items:         NormalizeItems(in.Items),
		SubTotal:      coerceMoney(in.SubTotal),
		Discount:      coerceMoney(in.Discount),
		GrandTotal:    coerceMoney(in.GrandTotal),
		Received:      coerceMoney(in.Received),
		Balance:       coerceMoney(in.Balance),
		AmountWords:   coerceText(in.AmountWords),
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// merge lays the patch over v field by field; nil patch fields keep v's value.
func (v *billValues) merge(p *BillPatch) {
	if p.CustomerName != nil {
		v.CustomerName = strings.TrimSpace(*p.CustomerName)
	}
	if p.CustomerPhone != nil {
		v.CustomerPhone = strings.TrimSpace(*p.CustomerPhone)
	}
	if p.BillDate != nil {
		v.BillDate = parseBillDate(*p.BillDate)
	}
	if p.Items != nil {
		v.Items = NormalizeItems(p.Items)
	}
	if p.SubTotal != nil {
		v.SubTotal = coerceMoney(p.SubTotal)
	}
	if p.Discount != nil {
		v.Discount = coerceMoney(p.Discount)
	}
	if p.GrandTotal != nil {
		v.GrandTotal = coerceMoney(p.GrandTotal)
	}
	if p.Received != nil {
		v.Received = coerceMoney(p.Received)
	}
	if p.Balance != nil {
		v.Balance = coerceMoney(p.Balance)
	}
	if p.AmountWords != nil {
		v.AmountWords = *p.AmountWords
	}
}

func (v *billValues) validate() error {
	fields, err := utils.ValidateStruct(v)
	if err != nil {
		return err
	}
	if ve := validationErrorFromFields(fields); ve != nil {
		return ve
	}
	return nil
}

// BillCodec converts storage rows to wire bills. Conversions are memoized in
// an LRU keyed by row identity and last change, so cached values are shared
// and must be treated as read-only.
type BillCodec struct {
	phoneRegion string
	cache       *lru.Cache[string, WireBill]
}

// NewBillCodec builds a codec; cacheSize <= 0 disables the cache.
func NewBillCodec(phoneRegion string, cacheSize int) *BillCodec {
	c := &BillCodec{phoneRegion: phoneRegion}
	if cacheSize > 0 {
		cache, err := lru.New[string, WireBill](cacheSize)
		if err == nil {
			c.cache = cache
		}
	}
	return c
}

// ToWireBill maps a bills row to its wire form, including billData.
func (c *BillCodec) ToWireBill(b *Bill) *WireBill {
	if b == nil {
		return nil
	}
	key := fmt.Sprintf("bills:%d:%d", b.ID, b.UpdatedAt.UnixNano())
	if w, ok := c.cached(key); ok {
		return &w
	}
	w := c.wireFields(b)
	w.BillData = encodeBillData(&w)
	c.store(key, w)
	return &w
}

// ToWireDeletedBill maps a deleted_bills row; billData also carries
// originalBillId and deletedAt.
func (c *BillCodec) ToWireDeletedBill(d *DeletedBill) *WireDeletedBill {
	if d == nil {
		return nil
	}
	out := &WireDeletedBill{OriginalBillId: d.OriginalBillId, DeletedAt: d.DeletedAt}
	key := fmt.Sprintf("deleted_bills:%d:%d", d.ID, d.DeletedAt.UnixNano())
	if w, ok := c.cached(key); ok {
		out.WireBill = w
		return out
	}
	out.WireBill = c.wireFields(&Bill{
		ID:            d.ID,
		OwnerId:       d.OwnerId,
		EstimateNo:    d.EstimateNo,
		CustomerName:  d.CustomerName,
		CustomerPhone: d.CustomerPhone,
		BillDate:      d.BillDate,
		Items:         d.Items,
		SubTotal:      d.SubTotal,
		Discount:      d.Discount,
		GrandTotal:    d.GrandTotal,
		Received:      d.Received,
		Balance:       d.Balance,
		AmountWords:   d.AmountWords,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	})
	out.BillData = encodeDeletedBillData(out)
	c.store(key, out.WireBill)
	return out
}

func (c *BillCodec) wireFields(b *Bill) WireBill {
	return WireBill{
		ID:                b.ID,
		EstimateNo:        b.EstimateNo,
		CustomerName:      b.CustomerName,
		CustomerPhone:     b.CustomerPhone,
		CustomerPhoneE164: utils.FormatPhoneE164(b.CustomerPhone, c.region()),
		BillDate:          formatBillDate(b.BillDate),
		Items:             ParseItems(b.Items),
		SubTotal:          CoerceNumber(b.SubTotal),
		Discount:          CoerceNumber(b.Discount),
		GrandTotal:        CoerceNumber(b.GrandTotal),
		Received:          CoerceNumber(b.Received),
		Balance:           CoerceNumber(b.Balance),
		AmountWords:       b.AmountWords,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

// a nil codec behaves like NewBillCodec(utils.CountryCode, 0)
func (c *BillCodec) region() string {
	if c == nil {
		return utils.CountryCode
	}
	return c.phoneRegion
}

func (c *BillCodec) cached(key string) (WireBill, bool) {
	if c == nil || c.cache == nil {
		return WireBill{}, false
	}
	return c.cache.Get(key)
}

func (c *BillCodec) store(key string, w WireBill) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Add(key, w)
}

// encodeBillData serializes the bill without its own billData field.
func encodeBillData(w *WireBill) string {
	b, err := json.Marshal(struct {
		*WireBill
		BillData string `json:"billData,omitempty"`
	}{WireBill: w})
	if err != nil {
		return ""
	}
	return string(b)
}

func encodeDeletedBillData(w *WireDeletedBill) string {
	b, err := json.Marshal(struct {
		*WireDeletedBill
		BillData string `json:"billData,omitempty"`
	}{WireDeletedBill: w})
	if err != nil {
		return ""
	}
	return string(b)
}
