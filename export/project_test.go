package export

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/orderexport_backend/models"
	"github.com/shopspring/decimal"
)

func testOrder() *models.Order {
	return &models.Order{
		ID:                 1,
		OrderNumber:        "1001",
		CurrentStatus:      models.OrderStatusCompleted,
		CustomerId:         42,
		CustomerNote:       "leave at door",
		PaymentMethodTitle: "Credit Card",
		BillingFirstName:   "Aye",
		BillingLastName:    "Chan",
		BillingEmail:       "aye@example.com",
		BillingPhone:       "0912345678",
		BillingCity:        "Yangon",
		Subtotal:           decimal.RequireFromString("45.00"),
		Total:              decimal.RequireFromString("49.99"),
		DiscountTotal:      decimal.RequireFromString("5.00"),
		TaxTotal:           decimal.RequireFromString("2.50"),
		ShippingTotal:      decimal.RequireFromString("7.49"),
		CreatedAt:          time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC),
	}
}

func testItem() *models.OrderLineItem {
	return &models.OrderLineItem{
		ID:          7,
		OrderId:     1,
		ProductName: "Mug",
		Sku:         "MUG-01",
		Quantity:    3,
		LineTotal:   decimal.RequireFromString("29.97"),
		Meta: []models.OrderItemMeta{
			{MetaKey: "engraving_text", MetaValue: "Happy Birthday"},
			{MetaKey: "_wcpa_product_addons", MetaValue: `["Gift Wrap","Ribbon"]`},
			{MetaKey: "options", MetaValue: `{"size":"L","color":"red"}`},
		},
	}
}

func TestProjectRow_PreservesRequestedOrder(t *testing.T) {
	row := ProjectRow(testOrder(), testItem(), []string{"total", "order_number", "product_name"})
	expected := []string{"49.99", "1001", "Mug"}
	if len(row) != len(expected) {
		t.Fatalf("expected %d cells, got %d", len(expected), len(row))
	}
	for i := range expected {
		if row[i] != expected[i] {
			t.Fatalf("cell[%d] expected %q, got %q", i, expected[i], row[i])
		}
	}
}

func TestFieldValue_OrderLevel(t *testing.T) {
	order := testOrder()
	cases := []struct {
		key      string
		expected string
	}{
		{"order_number", "1001"},
		{"order_status", "completed"},
		{"order_date", "2026-02-14 09:30:00"},
		{"customer_id", "42"},
		{"customer_name", "Aye Chan"},
		{"customer_email", "aye@example.com"},
		{"payment_method", "Credit Card"},
		{"billing_city", "Yangon"},
		{"subtotal", "45"},
		{"total", "49.99"},
		{"discount_total", "5"},
		{"cart_discount_amount", "5"},
		{"tax_total", "2.5"},
		{"shipping_total", "7.49"},
	}
	for _, tc := range cases {
		if got := fieldValue(order, nil, tc.key); got != tc.expected {
			t.Fatalf("fieldValue(%q) expected %q, got %q", tc.key, tc.expected, got)
		}
	}
}

func TestFieldValue_ItemLevel(t *testing.T) {
	order := testOrder()
	item := testItem()
	cases := []struct {
		key      string
		expected string
	}{
		{"product_name", "Mug"},
		{"sku", "MUG-01"},
		{"quantity", "3"},
		{"item_cost", "29.97"},
		{"item", "7"},
		{"engraving_text", "Happy Birthday"},
		{"product_addons", "Gift Wrap, Ribbon"},
		{"missing_meta", ""},
	}
	for _, tc := range cases {
		if got := fieldValue(order, item, tc.key); got != tc.expected {
			t.Fatalf("fieldValue(%q) expected %q, got %q", tc.key, tc.expected, got)
		}
	}
}

func TestFieldValue_NilItemBlanksItemFields(t *testing.T) {
	order := testOrder()
	for _, key := range []string{"product_name", "sku", "quantity", "item_cost", "item", "product_addons", "engraving_text"} {
		if got := fieldValue(order, nil, key); got != "" {
			t.Fatalf("fieldValue(%q) with no item expected empty, got %q", key, got)
		}
	}
}

func TestNormalizeMetaValue(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"plain text", "plain text"},
		{"", ""},
		{"123", "123"},
		{`["a","b"]`, `["a","b"]`},
		{`  [1, 2, 3]  `, `[1,2,3]`},
		{`{"size": "L"}`, `{"size":"L"}`},
		{"[not json", "[not json"},
		{"{broken", "{broken"},
	}
	for _, tc := range cases {
		if got := normalizeMetaValue(tc.in); got != tc.expected {
			t.Fatalf("normalizeMetaValue(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}

func TestProductAddons_ScalarAndMixedValues(t *testing.T) {
	item := &models.OrderLineItem{
		Meta: []models.OrderItemMeta{
			{MetaKey: "_wcpa_product_addons", MetaValue: `["Gift Wrap",2,true]`},
		},
	}
	if got := productAddons(item); got != "Gift Wrap, 2, true" {
		t.Fatalf("expected joined addons, got %q", got)
	}

	scalar := &models.OrderLineItem{
		Meta: []models.OrderItemMeta{
			{MetaKey: "_wcpa_product_addons", MetaValue: "just text"},
		},
	}
	if got := productAddons(scalar); got != "just text" {
		t.Fatalf("expected scalar passthrough, got %q", got)
	}

	if got := productAddons(&models.OrderLineItem{}); got != "" {
		t.Fatalf("expected empty for missing addons meta, got %q", got)
	}
}
