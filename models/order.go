package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/orderexport_backend/config"
	"bitbucket.org/mmdatafocus/orderexport_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Order struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	OrderNumber         string          `gorm:"size:255;not null;index" json:"order_number" binding:"required"`
	CurrentStatus       OrderStatus     `gorm:"type:enum('pending','processing','on-hold','completed','cancelled','refunded','failed');not null" json:"current_status" binding:"required"`
	CustomerId          int             `gorm:"index" json:"customer_id"`
	CustomerNote        string          `gorm:"type:text" json:"customer_note"`
	PaymentMethodTitle  string          `gorm:"size:255" json:"payment_method_title"`
	BillingFirstName    string          `gorm:"size:100" json:"billing_first_name"`
	BillingLastName     string          `gorm:"size:100" json:"billing_last_name"`
	BillingAddress1     string          `gorm:"size:255" json:"billing_address_1"`
	BillingAddress2     string          `gorm:"size:255" json:"billing_address_2"`
	BillingCity         string          `gorm:"size:100" json:"billing_city"`
	BillingState        string          `gorm:"size:100" json:"billing_state"`
	BillingPostcode     string          `gorm:"size:20" json:"billing_postcode"`
	BillingCountry      string          `gorm:"size:2" json:"billing_country"`
	BillingPhone        string          `gorm:"size:20" json:"billing_phone"`
	BillingEmail        string          `gorm:"size:100" json:"billing_email"`
	ShippingFirstName   string          `gorm:"size:100" json:"shipping_first_name"`
	ShippingLastName    string          `gorm:"size:100" json:"shipping_last_name"`
	ShippingAddress1    string          `gorm:"size:255" json:"shipping_address_1"`
	ShippingAddress2    string          `gorm:"size:255" json:"shipping_address_2"`
	ShippingCity        string          `gorm:"size:100" json:"shipping_city"`
	ShippingState       string          `gorm:"size:100" json:"shipping_state"`
	ShippingPostcode    string          `gorm:"size:20" json:"shipping_postcode"`
	ShippingCountry     string          `gorm:"size:2" json:"shipping_country"`
	ShippingMethodTitle string          `gorm:"size:255" json:"shipping_method_title"`
	Subtotal            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	Total               decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	DiscountTotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_total"`
	TaxTotal            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_total"`
	ShippingTotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"shipping_total"`
	CreatedAt           time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Items               []OrderLineItem `gorm:"foreignKey:OrderId" json:"items"`
}

type OrderLineItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	OrderId     int             `gorm:"index;not null" json:"order_id" binding:"required"`
	ProductName string          `gorm:"size:255;not null" json:"product_name" binding:"required"`
	Sku         string          `gorm:"size:100" json:"sku"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_total"`
	Meta        []OrderItemMeta `gorm:"foreignKey:LineItemId" json:"meta"`
}

// OrderItemMeta mirrors the classic one-row-per-key itemmeta layout so addon
// discovery is a single DISTINCT scan. MetaValue holds raw scalar text, or a
// JSON document for array/object values.
type OrderItemMeta struct {
	ID         int    `gorm:"primary_key" json:"id"`
	LineItemId int    `gorm:"index;not null" json:"line_item_id" binding:"required"`
	MetaKey    string `gorm:"size:255;not null;index" json:"meta_key" binding:"required"`
	MetaValue  string `gorm:"type:text" json:"meta_value"`
}

// BillingFullName mirrors the storefront's formatted billing name.
func (o *Order) BillingFullName() string {
	return strings.TrimSpace(strings.TrimSpace(o.BillingFirstName) + " " + strings.TrimSpace(o.BillingLastName))
}

// MetaValue returns the raw stored value for key, and whether it was present.
func (li *OrderLineItem) MetaValue(key string) (string, bool) {
	for i := range li.Meta {
		if li.Meta[i].MetaKey == key {
			return li.Meta[i].MetaValue, true
		}
	}
	return "", false
}

// GetOrder loads one order with its line items and item meta.
func GetOrder(ctx context.Context, id int) (*Order, error) {
	db := config.GetDB()
	var order Order
	err := db.WithContext(ctx).Model(&Order{}).
		Preload("Items").Preload("Items.Meta").
		Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

// OrderIdsCreatedBetween returns ids of orders created in [from, to], oldest first.
func OrderIdsCreatedBetween(ctx context.Context, from time.Time, to time.Time) ([]int, error) {
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&Order{}).
		Where("created_at BETWEEN ? AND ?", from, to).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DistinctLineItemMetaKeys scans every distinct meta key attached to any line
// item. This is the expensive full-table scan behind addon field discovery;
// callers are expected to cache the result.
func DistinctLineItemMetaKeys(ctx context.Context) ([]string, error) {
	db := config.GetDB()
	var keys []string
	err := db.WithContext(ctx).Model(&OrderItemMeta{}).
		Distinct("meta_key").
		Order("meta_key ASC").
		Pluck("meta_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// GormOrderSource adapts the order store to the export pipeline's source
// contract (export.OrderSource).
type GormOrderSource struct{}

func (GormOrderSource) LoadOrder(ctx context.Context, id int) (*Order, error) {
	return GetOrder(ctx, id)
}

func (GormOrderSource) OrderIdsCreatedBetween(ctx context.Context, from, to time.Time) ([]int, error) {
	return OrderIdsCreatedBetween(ctx, from, to)
}

func (GormOrderSource) DistinctLineItemMetaKeys(ctx context.Context) ([]string, error) {
	return DistinctLineItemMetaKeys(ctx)
}
