package business

import (
	"encoding/json"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/shopspring/decimal"
)

// Transaction statuses
const (
	StatusCash   = "نقدي"
	StatusCredit = "آجل"
)

// Voucher kinds and parties
const (
	VoucherReceipt = "قبض"
	VoucherPayment = "دفع"

	PartyCustomer = "عميل"
	PartySupplier = "مورد"

	BalanceDebit  = "مدين"
	BalanceCredit = "دائن"
)

// TransactionInput holds the fields sales and purchases share
type TransactionInput struct {
	ID        string  `json:"id,omitempty"`
	QatType   string  `json:"qat_type" validate:"required,max=100"`
	Quantity  float64 `json:"quantity" validate:"gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	Status    string  `json:"status" validate:"required,oneof=نقدي آجل"`
	Currency  string  `json:"currency" validate:"required,oneof=YER SAR OMR"`
	Notes     string  `json:"notes,omitempty" validate:"max=500"`
	Date      string  `json:"date,omitempty"`
	ImageURL  string  `json:"image_url,omitempty" validate:"omitempty,url"`
}

func (t TransactionInput) record(total decimal.Decimal, date string) offline.Record {
	r := offline.Record{
		"qat_type":    t.QatType,
		"quantity":    t.Quantity,
		"unit_price":  t.UnitPrice,
		"total":       total.InexactFloat64(),
		"status":      t.Status,
		"currency":    t.Currency,
		"date":        date,
		"is_returned": false,
	}
	setID(r, t.ID)
	setOptional(r, "notes", t.Notes)
	setOptional(r, "image_url", t.ImageURL)
	return r
}

// SaleInput is a sale of a qat type to a customer
type SaleInput struct {
	TransactionInput
	CustomerID   string `json:"customer_id" validate:"required"`
	CustomerName string `json:"customer_name" validate:"required,max=100"`
}

// PurchaseInput is a purchase of a qat type from a supplier
type PurchaseInput struct {
	TransactionInput
	SupplierID   string `json:"supplier_id" validate:"required"`
	SupplierName string `json:"supplier_name" validate:"required,max=100"`
}

// CustomerInput creates or edits a customer
type CustomerInput struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name" validate:"required,max=100"`
	Phone   string `json:"phone,omitempty" validate:"max=20"`
	Address string `json:"address,omitempty" validate:"max=200"`
}

func (c CustomerInput) record() offline.Record {
	r := offline.Record{"name": c.Name, "phone": c.Phone}
	setID(r, c.ID)
	setOptional(r, "address", c.Address)
	return r
}

// SupplierInput creates or edits a supplier
type SupplierInput struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name" validate:"required,max=100"`
	Phone  string `json:"phone,omitempty" validate:"max=20"`
	Region string `json:"region,omitempty" validate:"max=100"`
}

func (s SupplierInput) record() offline.Record {
	r := offline.Record{"name": s.Name, "phone": s.Phone}
	setID(r, s.ID)
	setOptional(r, "region", s.Region)
	return r
}

// VoucherInput is a receipt from or payment to a customer or supplier
type VoucherInput struct {
	ID         string  `json:"id,omitempty"`
	Type       string  `json:"type" validate:"required,oneof=قبض دفع"`
	PersonID   string  `json:"person_id" validate:"required"`
	PersonName string  `json:"person_name" validate:"required,max=100"`
	PersonType string  `json:"person_type" validate:"required,oneof=عميل مورد"`
	Amount     float64 `json:"amount" validate:"gt=0"`
	Currency   string  `json:"currency" validate:"required,oneof=YER SAR OMR"`
	Notes      string  `json:"notes,omitempty" validate:"max=500"`
	Date       string  `json:"date,omitempty"`
}

func (v VoucherInput) record(amount decimal.Decimal, date string) offline.Record {
	r := offline.Record{
		"type":        v.Type,
		"person_id":   v.PersonID,
		"person_name": v.PersonName,
		"person_type": v.PersonType,
		"amount":      amount.InexactFloat64(),
		"currency":    v.Currency,
		"notes":       v.Notes,
		"date":        date,
	}
	setID(r, v.ID)
	return r
}

// OpeningBalanceInput records a balance carried over from before the agency used the system
type OpeningBalanceInput struct {
	ID          string  `json:"id,omitempty"`
	PersonID    string  `json:"person_id" validate:"required"`
	PersonName  string  `json:"person_name" validate:"required,max=100"`
	PersonType  string  `json:"person_type" validate:"required,oneof=عميل مورد"`
	Amount      float64 `json:"amount" validate:"gt=0"`
	Currency    string  `json:"currency" validate:"required,oneof=YER SAR OMR"`
	BalanceType string  `json:"balance_type" validate:"required,oneof=مدين دائن"`
	Notes       string  `json:"notes,omitempty" validate:"max=500"`
	Date        string  `json:"date,omitempty"`
}

// openingBalanceNote is the default note on opening balance vouchers
const openingBalanceNote = "رصيد افتتاحي"

func (o OpeningBalanceInput) record(amount decimal.Decimal, date string) offline.Record {
	// a debit balance means the party owes the agency, which books like a payment out
	kind := VoucherReceipt
	if o.BalanceType == BalanceDebit {
		kind = VoucherPayment
	}
	notes := o.Notes
	if notes == "" {
		notes = openingBalanceNote
	}
	r := offline.Record{
		"type":         kind,
		"person_id":    o.PersonID,
		"person_name":  o.PersonName,
		"person_type":  o.PersonType,
		"amount":       amount.InexactFloat64(),
		"currency":     o.Currency,
		"balance_type": o.BalanceType,
		"notes":        notes,
		"date":         date,
	}
	setID(r, o.ID)
	return r
}

// CategoryInput is a stock item: a qat type with its stock level and price
type CategoryInput struct {
	ID                string  `json:"id,omitempty"`
	Name              string  `json:"name" validate:"required,max=100"`
	Stock             float64 `json:"stock" validate:"gte=0"`
	Price             float64 `json:"price" validate:"gte=0"`
	Currency          string  `json:"currency" validate:"required,oneof=YER SAR OMR"`
	LowStockThreshold float64 `json:"low_stock_threshold" validate:"gte=0"`
}

func (c CategoryInput) record() offline.Record {
	r := offline.Record{
		"name":                c.Name,
		"stock":               c.Stock,
		"price":               c.Price,
		"currency":            c.Currency,
		"low_stock_threshold": c.LowStockThreshold,
	}
	setID(r, c.ID)
	return r
}

// ExpenseInput is a one-off business expense
type ExpenseInput struct {
	ID       string  `json:"id,omitempty"`
	Title    string  `json:"title" validate:"required,max=100"`
	Category string  `json:"category" validate:"required,max=50"`
	Amount   float64 `json:"amount" validate:"gt=0"`
	Currency string  `json:"currency" validate:"required,oneof=YER SAR OMR"`
	Date     string  `json:"date,omitempty"`
	ImageURL string  `json:"image_url,omitempty" validate:"omitempty,url"`
	Notes    string  `json:"notes,omitempty" validate:"max=500"`
}

func (e ExpenseInput) record(amount decimal.Decimal, date string) offline.Record {
	r := offline.Record{
		"title":    e.Title,
		"category": e.Category,
		"amount":   amount.InexactFloat64(),
		"currency": e.Currency,
		"date":     date,
	}
	setID(r, e.ID)
	setOptional(r, "image_url", e.ImageURL)
	setOptional(r, "notes", e.Notes)
	return r
}

// ExpenseTemplateInput is a recurring expense used to prefill new expenses
type ExpenseTemplateInput struct {
	ID        string  `json:"id,omitempty"`
	Title     string  `json:"title" validate:"required,max=100"`
	Category  string  `json:"category" validate:"required,max=50"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Currency  string  `json:"currency" validate:"required,oneof=YER SAR OMR"`
	Frequency string  `json:"frequency" validate:"required,max=20"`
}

func (e ExpenseTemplateInput) record() offline.Record {
	r := offline.Record{
		"title":     e.Title,
		"category":  e.Category,
		"amount":    e.Amount,
		"currency":  e.Currency,
		"frequency": e.Frequency,
	}
	setID(r, e.ID)
	return r
}

// WasteInput records spoiled stock
type WasteInput struct {
	ID            string  `json:"id,omitempty"`
	QatType       string  `json:"qat_type" validate:"required,max=100"`
	Quantity      float64 `json:"quantity" validate:"gt=0"`
	EstimatedLoss float64 `json:"estimated_loss" validate:"gte=0"`
	Reason        string  `json:"reason" validate:"required,max=200"`
	Date          string  `json:"date,omitempty"`
}

func (w WasteInput) record(date string) offline.Record {
	r := offline.Record{
		"qat_type":       w.QatType,
		"quantity":       w.Quantity,
		"estimated_loss": w.EstimatedLoss,
		"reason":         w.Reason,
		"date":           date,
	}
	setID(r, w.ID)
	return r
}

// AccountingSettings are the per-agency bookkeeping switches
type AccountingSettings struct {
	AllowNegativeStock bool   `json:"allow_negative_stock"`
	AutoShareWhatsapp  bool   `json:"auto_share_whatsapp"`
	DecimalPrecision   int    `json:"decimal_precision" validate:"gte=0,lte=6"`
	BackupFrequency    string `json:"backup_frequency,omitempty" validate:"omitempty,oneof=daily 12h"`
	ShowDebtAlerts     bool   `json:"show_debt_alerts"`
}

// ExchangeRates converts foreign currencies to YER
type ExchangeRates struct {
	SARToYER float64 `json:"SAR_TO_YER" validate:"gt=0"`
	OMRToYER float64 `json:"OMR_TO_YER" validate:"gt=0"`
}

// Settings is the user's settings record
type Settings struct {
	AgencyName    string              `json:"agency_name,omitempty" validate:"max=100"`
	Accounting    *AccountingSettings `json:"accounting_settings,omitempty"`
	ExchangeRates *ExchangeRates      `json:"exchange_rates,omitempty"`
}

// DefaultDecimalPrecision applies when the user never chose one
const DefaultDecimalPrecision = 2

// Precision returns the number of decimals money is rounded to
func (s Settings) Precision() int32 {
	if s.Accounting == nil {
		return DefaultDecimalPrecision
	}
	return int32(s.Accounting.DecimalPrecision)
}

// AllowNegativeStock reports whether sales may exceed the stock on hand
func (s Settings) AllowNegativeStock() bool {
	return s.Accounting != nil && s.Accounting.AllowNegativeStock
}

func (s Settings) record() (offline.Record, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var r offline.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

func settingsFromRecord(r offline.Record) (Settings, error) {
	var s Settings
	data, err := json.Marshal(r)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(data, &s)
	return s, err
}

func setID(r offline.Record, id string) {
	if id != "" {
		r[offline.FieldID] = id
	}
}

func setOptional(r offline.Record, field, value string) {
	if value != "" {
		r[field] = value
	}
}
