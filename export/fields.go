package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/orderexport_backend/config"
	"bitbucket.org/mmdatafocus/orderexport_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// FieldDescriptor is one exportable column: a stable key and its header label.
type FieldDescriptor struct {
	Key   string
	Label string
}

// FieldSet is an ordered key->label mapping. Order is part of the contract
// (it drives the field picker and header resolution), so it marshals to a
// JSON object preserving insertion order instead of a Go map.
type FieldSet []FieldDescriptor

func (s FieldSet) Label(key string) (string, bool) {
	for i := range s {
		if s[i].Key == key {
			return s[i].Label, true
		}
	}
	return "", false
}

func (s FieldSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *FieldSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("field set: expected object, got %v", tok)
	}
	out := FieldSet{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("field set: non-string key %v", keyTok)
		}
		var label string
		if err := dec.Decode(&label); err != nil {
			return err
		}
		out = append(out, FieldDescriptor{Key: key, Label: label})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// FieldOptions is the combined catalog used for header resolution.
type FieldOptions struct {
	Standard FieldSet `json:"standard"`
	Addons   FieldSet `json:"addons"`
}

// HeaderLabel resolves a requested key to its column header: standard label,
// then addon label, then the raw key itself.
func (o FieldOptions) HeaderLabel(key string) string {
	if label, ok := o.Standard.Label(key); ok {
		return label
	}
	if label, ok := o.Addons.Label(key); ok {
		return label
	}
	return key
}

// StandardFields returns the fixed standard catalog, stable across calls.
func StandardFields() FieldSet {
	return FieldSet{
		{"order_number", "Order Number"},
		{"order_status", "Order Status"},
		{"order_date", "Order Date"},
		{"customer_id", "Customer ID"},
		{"customer_name", "Customer Name"},
		{"customer_email", "Customer Email"},
		{"customer_phone", "Customer Phone"},
		{"customer_note", "Customer Note"},
		{"payment_method", "Payment Method"},
		{"billing_first_name", "Billing First Name"},
		{"billing_last_name", "Billing Last Name"},
		{"billing_address_1", "Billing Address 1"},
		{"billing_address_2", "Billing Address 2"},
		{"billing_city", "Billing City"},
		{"billing_state", "Billing State"},
		{"billing_postcode", "Billing Postcode"},
		{"billing_country", "Billing Country"},
		{"billing_phone", "Billing Phone"},
		{"billing_email", "Billing Email"},
		{"shipping_first_name", "Shipping First Name"},
		{"shipping_last_name", "Shipping Last Name"},
		{"shipping_address_1", "Shipping Address 1"},
		{"shipping_address_2", "Shipping Address 2"},
		{"shipping_city", "Shipping City"},
		{"shipping_state", "Shipping State"},
		{"shipping_postcode", "Shipping Postcode"},
		{"shipping_country", "Shipping Country"},
		{"product_name", "Product Name"},
		{"sku", "SKU"},
		{"quantity", "Quantity"},
		{"item_cost", "Item Cost"},
		{"cart_discount_amount", "Cart Discount Amount"},
		{"shipping_method_title", "Shipping Method Title"},
		{"product_addons", "Product Add-ons"},
		{"subtotal", "Subtotal"},
		{"total", "Total"},
		{"discount_total", "Discount Total"},
		{"tax_total", "Tax Total"},
		{"shipping_total", "Shipping Total"},
	}
}

// internalMetaKeys are bookkeeping entries never offered as addon fields.
var internalMetaKeys = map[string]bool{
	"_product_id":        true,
	"_variation_id":      true,
	"_qty":               true,
	"_tax_class":         true,
	"_line_subtotal":     true,
	"_line_subtotal_tax": true,
	"_line_total":        true,
	"_line_tax":          true,
	"_line_tax_data":     true,
}

// conventionMarkers identify custom-field keys by naming convention even when
// they carry the reserved leading underscore.
var conventionMarkers = []string{"wcpa_", "addon", "custom_field", "wcpb_", "_custom_"}

// labelPrefixes are vendor markers stripped out of derived labels.
var labelPrefixes = []string{"wcpa_", "addon_", "custom_field_", "wcpb_", "custom_"}

func isAddonKey(key string) bool {
	if !strings.HasPrefix(key, "_") && !internalMetaKeys[key] {
		return true
	}
	for _, marker := range conventionMarkers {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// AddonLabel derives a human label from a raw meta key.
func AddonLabel(key string) string {
	label := strings.TrimPrefix(key, "_")
	for _, prefix := range labelPrefixes {
		label = strings.ReplaceAll(label, prefix, "")
	}
	label = strings.ReplaceAll(label, "_", " ")
	label = strings.ReplaceAll(label, "-", " ")
	return titleWords(label)
}

func titleWords(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		words[i] = utils.UppercaseFirst(w)
	}
	return strings.Join(words, " ")
}

// addonFieldsFromKeys applies the inclusion rules and returns the addon set
// sorted alphabetically by label (not key).
func addonFieldsFromKeys(keys []string) FieldSet {
	addons := FieldSet{}
	for _, key := range keys {
		if key == "" || !isAddonKey(key) {
			continue
		}
		addons = append(addons, FieldDescriptor{Key: key, Label: AddonLabel(key)})
	}
	sort.SliceStable(addons, func(i, j int) bool {
		if addons[i].Label != addons[j].Label {
			return addons[i].Label < addons[j].Label
		}
		return addons[i].Key < addons[j].Key
	})
	return addons
}

const (
	fieldOptionsCacheKey = "ExportFieldOptions"
	fieldOptionsLockKey  = "lock:ExportFieldOptions"
)

func catalogCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil || lifespan <= 0 {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

// Catalog caches the combined standard+addon catalog. The discovery scan is
// the only expensive part, so results are held in-process and mirrored to a
// TTL'd redis blob shared across instances. Safe for concurrent readers with
// last-writer-wins recompute (the computation is idempotent).
type Catalog struct {
	source OrderSource
	logger *logrus.Logger
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	cached    *FieldOptions
	expiresAt time.Time
}

func NewCatalog(source OrderSource, logger *logrus.Logger) *Catalog {
	return &Catalog{
		source: source,
		logger: logger,
		ttl:    catalogCacheLifespan(),
		now:    time.Now,
	}
}

// Fields returns the catalog, recomputing on cache miss/expiry. Discovery
// failures degrade to an empty addon set; this never fails.
func (c *Catalog) Fields(ctx context.Context) FieldOptions {
	c.mu.RLock()
	if c.cached != nil && c.now().Before(c.expiresAt) {
		opts := *c.cached
		c.mu.RUnlock()
		return opts
	}
	c.mu.RUnlock()

	// Another instance may have computed it already.
	var fromRedis FieldOptions
	exists, err := config.GetRedisObject(fieldOptionsCacheKey, &fromRedis)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"field": "Catalog.Fields"}).
			Warn("failed to read field options cache: " + err.Error())
	}
	if exists && len(fromRedis.Standard) > 0 {
		c.store(fromRedis, false)
		return fromRedis
	}

	return c.recompute(ctx)
}

// Invalidate drops both cache layers; the next Fields call rescans.
func (c *Catalog) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.cached = nil
	c.expiresAt = time.Time{}
	c.mu.Unlock()
	return config.RemoveRedisKey(fieldOptionsCacheKey)
}

func (c *Catalog) recompute(ctx context.Context) FieldOptions {
	// Best-effort lock so concurrent cache misses do not all run the full
	// scan at once. If redis is unavailable, recompute anyway.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, fieldOptionsLockKey, 30*time.Second, nil)
		if err == nil {
			defer func() {
				if releaseErr := lock.Release(ctx); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
					c.logger.WithFields(logrus.Fields{"field": "Catalog.recompute"}).
						Warn("failed to release field options lock: " + releaseErr.Error())
				}
			}()
		}
	}

	opts := FieldOptions{Standard: StandardFields(), Addons: FieldSet{}}

	keys, err := c.source.DistinctLineItemMetaKeys(ctx)
	if err != nil {
		// Degrade gracefully: the standard set still exports.
		config.LogError(c.logger, "fields.go", "recompute", "DistinctLineItemMetaKeys", nil, err)
	} else {
		opts.Addons = addonFieldsFromKeys(keys)
	}

	c.store(opts, true)
	return opts
}

func (c *Catalog) store(opts FieldOptions, persist bool) {
	c.mu.Lock()
	c.cached = &opts
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()

	if persist {
		if err := config.SetRedisObject(fieldOptionsCacheKey, &opts, c.ttl); err != nil {
			c.logger.WithFields(logrus.Fields{"field": "Catalog.store"}).
				Warn("failed to persist field options cache: " + err.Error())
		}
	}
}
