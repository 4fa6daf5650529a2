package export

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/orderexport_backend/models"
)

const orderDateFormat = "2006-01-02 15:04:05"

const productAddonsMetaKey = "_wcpa_product_addons"

// ProjectRow flattens one (order, item) pair into cell values, one per
// requested key, preserving the caller's key order. It is the single source
// of truth for field resolution; both renderers consume it. item is nil for
// the one synthetic row of an order without line items; item-level fields
// resolve to "" in that case. Missing data never errors, it degrades to "".
func ProjectRow(order *models.Order, item *models.OrderLineItem, fieldKeys []string) []string {
	row := make([]string, 0, len(fieldKeys))
	for _, key := range fieldKeys {
		row = append(row, fieldValue(order, item, key))
	}
	return row
}

func fieldValue(order *models.Order, item *models.OrderLineItem, key string) string {
	switch key {
	case "order_number":
		return order.OrderNumber
	case "order_status":
		return string(order.CurrentStatus)
	case "order_date":
		return order.CreatedAt.Format(orderDateFormat)
	case "customer_id":
		return strconv.Itoa(order.CustomerId)
	case "customer_name":
		return order.BillingFullName()
	case "customer_email":
		return order.BillingEmail
	case "customer_phone":
		return order.BillingPhone
	case "customer_note":
		return order.CustomerNote
	case "payment_method":
		return order.PaymentMethodTitle
	case "billing_first_name":
		return order.BillingFirstName
	case "billing_last_name":
		return order.BillingLastName
	case "billing_address_1":
		return order.BillingAddress1
	case "billing_address_2":
		return order.BillingAddress2
	case "billing_city":
		return order.BillingCity
	case "billing_state":
		return order.BillingState
	case "billing_postcode":
		return order.BillingPostcode
	case "billing_country":
		return order.BillingCountry
	case "billing_phone":
		return order.BillingPhone
	case "billing_email":
		return order.BillingEmail
	case "shipping_first_name":
		return order.ShippingFirstName
	case "shipping_last_name":
		return order.ShippingLastName
	case "shipping_address_1":
		return order.ShippingAddress1
	case "shipping_address_2":
		return order.ShippingAddress2
	case "shipping_city":
		return order.ShippingCity
	case "shipping_state":
		return order.ShippingState
	case "shipping_postcode":
		return order.ShippingPostcode
	case "shipping_country":
		return order.ShippingCountry
	case "shipping_method_title":
		return order.ShippingMethodTitle
	case "cart_discount_amount":
		return order.DiscountTotal.String()
	case "subtotal":
		return order.Subtotal.String()
	case "total":
		return order.Total.String()
	case "discount_total":
		return order.DiscountTotal.String()
	case "tax_total":
		return order.TaxTotal.String()
	case "shipping_total":
		return order.ShippingTotal.String()
	case "product_name":
		if item == nil {
			return ""
		}
		return item.ProductName
	case "sku":
		if item == nil {
			return ""
		}
		return item.Sku
	case "item":
		if item == nil {
			return ""
		}
		return strconv.Itoa(item.ID)
	case "quantity":
		if item == nil {
			return ""
		}
		return strconv.Itoa(item.Quantity)
	case "item_cost":
		if item == nil {
			return ""
		}
		return item.LineTotal.StringFixed(2)
	case "product_addons":
		return productAddons(item)
	default:
		// Not in the dispatch table: raw item meta lookup.
		return metaLookup(item, key)
	}
}

// productAddons joins an array-valued addons entry with ", "; scalar values
// pass through as stored.
func productAddons(item *models.OrderLineItem) string {
	if item == nil {
		return ""
	}
	raw, ok := item.MetaValue(productAddonsMetaKey)
	if !ok {
		return ""
	}
	var values []any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return raw
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, stringifyScalar(v))
	}
	return strings.Join(parts, ", ")
}

func metaLookup(item *models.OrderLineItem, key string) string {
	if item == nil {
		return ""
	}
	raw, ok := item.MetaValue(key)
	if !ok {
		return ""
	}
	return normalizeMetaValue(raw)
}

// normalizeMetaValue applies the single stringification policy for both
// renderers: values stored as JSON arrays/objects are re-encoded as compact
// JSON; everything else is emitted as the raw stored text.
func normalizeMetaValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) == 0 {
		return raw
	}
	if trimmed[0] != '[' && trimmed[0] != '{' {
		return raw
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return raw
	}
	switch decoded.(type) {
	case []any, map[string]any:
		compact, err := json.Marshal(decoded)
		if err != nil {
			return raw
		}
		return string(compact)
	}
	return raw
}

func stringifyScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
