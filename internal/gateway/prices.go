package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

const opPrices = "material_prices"

const priceSystemPrompt = `Eres un asistente de compras de construccion. Busca precios actuales y comparables del MISMO producto. Prioriza coincidencias exactas por SKU/UPC, luego coincidencia por descripcion. Siempre estima totalPrice = price + shippingCost + taxEstimate. Responde en JSON estricto.`

// priceSchemaJSON is the strict response schema the provider must follow.
const priceSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "itemQuery": {"type": "string"},
    "bestVendor": {"type": "string"},
    "bestPrice": {"type": "number"},
    "currency": {"type": "string"},
    "summaryEs": {"type": "string"},
    "exactMatchCount": {"type": "number"},
    "coverage": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "homeDepot": {"type": "boolean"},
        "lowes": {"type": "boolean"},
        "amazon": {"type": "boolean"},
        "ebay": {"type": "boolean"},
        "facebookMarketplace": {"type": "boolean"},
        "localSupplier": {"type": "boolean"}
      },
      "required": ["homeDepot", "lowes", "amazon", "ebay", "facebookMarketplace", "localSupplier"]
    },
    "options": {
      "type": "array",
      "minItems": 1,
      "maxItems": 12,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "vendor": {"type": "string"},
          "vendorType": {"type": "string"},
          "title": {"type": "string"},
          "price": {"type": "number"},
          "currency": {"type": "string"},
          "url": {"type": "string"},
          "distanceMiles": {"type": ["number", "null"]},
          "matchType": {"type": "string", "enum": ["exact_sku", "exact_upc", "keyword"]},
          "unitMatch": {"type": "boolean"},
          "confidence": {"type": "number"},
          "shippingCost": {"type": "number"},
          "taxEstimate": {"type": "number"},
          "totalPrice": {"type": "number"},
          "checkedAt": {"type": "string"},
          "notesEs": {"type": "string"}
        },
        "required": ["vendor", "vendorType", "title", "price", "currency", "url", "distanceMiles", "matchType", "unitMatch", "confidence", "shippingCost", "taxEstimate", "totalPrice", "checkedAt", "notesEs"]
      }
    }
  },
  "required": ["itemQuery", "bestVendor", "bestPrice", "currency", "summaryEs", "exactMatchCount", "coverage", "options"]
}`

// Retailer-name fragments used for heuristic coverage labeling.
var (
	reHomeDepot = regexp.MustCompile(`(?i)home\s*depot`)
	reLowes     = regexp.MustCompile(`(?i)lowe'?s`)
	reAmazon    = regexp.MustCompile(`(?i)amazon`)
	reEbay      = regexp.MustCompile(`(?i)ebay`)
	reFacebook  = regexp.MustCompile(`(?i)facebook|marketplace`)
)

// PriceRequest is the caller payload for a material price lookup.
type PriceRequest struct {
	ItemName string `json:"itemName"`
	SKU      string `json:"sku,omitempty"`
	Unit     string `json:"unit,omitempty"`
	Location string `json:"location,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

// PriceOption is one vendor offer that survived validation.
type PriceOption struct {
	Vendor        string   `json:"vendor"`
	VendorType    string   `json:"vendorType"`
	Title         string   `json:"title"`
	Price         float64  `json:"price"`
	Currency      string   `json:"currency"`
	URL           string   `json:"url"`
	DistanceMiles *float64 `json:"distanceMiles,omitempty"`
	MatchType     string   `json:"matchType"`
	UnitMatch     bool     `json:"unitMatch"`
	Confidence    float64  `json:"confidence"`
	ShippingCost  float64  `json:"shippingCost"`
	TaxEstimate   float64  `json:"taxEstimate"`
	TotalPrice    float64  `json:"totalPrice"`
	CheckedAt     string   `json:"checkedAt"`
	NotesEs       string   `json:"notesEs"`
}

// Coverage flags which retailer classes appear in the option set. The
// flags are heuristic labels, not authoritative.
type Coverage struct {
	HomeDepot           bool `json:"homeDepot"`
	Lowes               bool `json:"lowes"`
	Amazon              bool `json:"amazon"`
	Ebay                bool `json:"ebay"`
	FacebookMarketplace bool `json:"facebookMarketplace"`
	LocalSupplier       bool `json:"localSupplier"`
}

// PriceLookupResult is a completed price comparison.
type PriceLookupResult struct {
	ItemQuery       string        `json:"itemQuery"`
	BestVendor      string        `json:"bestVendor"`
	BestPrice       float64       `json:"bestPrice"`
	Currency        string        `json:"currency"`
	SummaryEs       string        `json:"summaryEs"`
	ExactMatchCount int           `json:"exactMatchCount"`
	Coverage        Coverage      `json:"coverage"`
	Options         []PriceOption `json:"options"`
	Source          string        `json:"source"`
	SearchedAt      string        `json:"searchedAt"`
	Cache           bool          `json:"cache"`
}

// LookupMaterialPrices runs the price-lookup pipeline against the
// web-search augmented provider mode and normalizes the result.
func (g *Gateway) LookupMaterialPrices(ctx context.Context, req PriceRequest) (PriceLookupResult, error) {
	tenantID := tenantOrDefault(req.TenantID)

	itemName := clampText(req.ItemName, g.cfg.MaxPromptChars)
	sku := clampText(req.SKU, 120)
	unit := req.Unit
	if strings.TrimSpace(unit) == "" {
		unit = "ea"
	}
	unit = clampText(unit, 40)
	location := clampText(req.Location, 120)

	if itemName == "" {
		g.record(opPrices, "validation_error")
		return PriceLookupResult{}, &ValidationError{Field: "itemName", Message: "itemName is required"}
	}

	key := fingerprint(priceSignature{
		Endpoint:        "material-prices",
		Model:           g.priceModel,
		ItemName:        itemName,
		SKU:             sku,
		Unit:            unit,
		Location:        location,
		MaxOutputTokens: g.cfg.MaxPriceOutputTokens,
		TenantID:        tenantID,
	})

	if cached, ok := g.priceCache.Get(key); ok {
		g.cacheHit(opPrices)
		g.record(opPrices, "cache_hit")
		cached.Cache = true
		return cached, nil
	}
	g.cacheMiss(opPrices)

	promptChars := len([]rune(itemName)) + len([]rune(sku)) + len([]rune(unit)) + len([]rune(location))
	if err := g.spend(opPrices, tenantID, promptChars, g.cfg.MaxPriceOutputTokens); err != nil {
		g.record(opPrices, "budget_rejected")
		return PriceLookupResult{}, err
	}

	result, shared, err := g.priceFlights.Do(ctx, key, func() (PriceLookupResult, error) {
		return g.computePrices(ctx, itemName, sku, unit, location, key)
	})
	if shared {
		g.dedupeShared(opPrices)
	}
	if err != nil {
		g.record(opPrices, outcomeForError(err))
		return PriceLookupResult{}, err
	}
	g.record(opPrices, "ok")
	return result, nil
}

func (g *Gateway) computePrices(ctx context.Context, itemName, sku, unit, location, key string) (PriceLookupResult, error) {
	body := map[string]any{
		"model":             g.priceModel,
		"max_output_tokens": g.cfg.MaxPriceOutputTokens,
		"tools":             []map[string]any{{"type": "web_search_preview"}},
		"temperature":       0.1,
		"text": map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   "material_price_lookup",
				"strict": true,
				"schema": json.RawMessage(priceSchemaJSON),
			},
		},
		"input": []map[string]any{
			{
				"role":    "system",
				"content": []map[string]any{{"type": "input_text", "text": priceSystemPrompt}},
			},
			{
				"role":    "user",
				"content": []map[string]any{{"type": "input_text", "text": buildPricePrompt(itemName, sku, unit, location)}},
			},
		},
	}

	payload, err := g.callUpstream(ctx, opPrices, func(ctx context.Context) (map[string]any, error) {
		return g.client.Responses(ctx, body)
	})
	if err != nil {
		return PriceLookupResult{}, err
	}

	text := extractResponseText(payload)
	if text == "" {
		return PriceLookupResult{}, ErrEmptyResponse
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return PriceLookupResult{}, fmt.Errorf("%w: %v", ErrInvalidResponseFormat, err)
	}

	nowISO := g.now().UTC().Format(time.RFC3339)

	rawOptions, _ := parsed["options"].([]any)
	options := make([]PriceOption, 0, len(rawOptions))
	for _, raw := range rawOptions {
		opt := coerceOption(raw, nowISO)
		if validOption(opt) {
			options = append(options, opt)
		}
	}
	if len(options) == 0 {
		return PriceLookupResult{}, ErrNoValidOptions
	}

	best := rankBest(options)

	out := PriceLookupResult{
		ItemQuery:       fallbackString(parsed["itemQuery"], itemName),
		BestVendor:      fallbackString(parsed["bestVendor"], best.Vendor),
		BestPrice:       bestPrice(parsed["bestPrice"], best),
		Currency:        fallbackString(parsed["currency"], best.Currency),
		SummaryEs:       summaryOrDefault(parsed["summaryEs"], len(options)),
		ExactMatchCount: exactMatchCount(parsed["exactMatchCount"], options),
		Coverage:        deriveCoverage(parsed["coverage"], options),
		Options:         capOptions(options, maxPriceOptions),
		Source:          "openai_web_search",
		SearchedAt:      nowISO,
		Cache:           false,
	}
	g.priceCache.Set(key, out)
	return out, nil
}

func buildPricePrompt(itemName, sku, unit, location string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Busca el mejor precio para este material: %q", itemName)
	if sku != "" {
		fmt.Fprintf(&b, " SKU: %s.", sku)
	} else {
		b.WriteString(".")
	}
	fmt.Fprintf(&b, " Unidad: %s. ", unit)
	if location != "" {
		fmt.Fprintf(&b, "Ubicacion local de referencia: %s. ", location)
	}
	b.WriteString("Debes incluir opciones de Home Depot, Lowe's, Amazon, eBay, Facebook Marketplace y ademas tiendas/proveedores locales cuando existan. ")
	b.WriteString("vendorType debe ser uno de: big_box, local_store, marketplace. ")
	b.WriteString("matchType debe ser: exact_sku, exact_upc o keyword. ")
	b.WriteString("unitMatch debe ser true cuando la unidad/tamano coincide. confidence de 0 a 1. ")
	b.WriteString("En summaryEs explica brevemente cual conviene y por que.")
	return b.String()
}

// extractResponseText pulls the model's text out of a responses-API
// payload: a top-level output_text, or the first non-empty text block.
func extractResponseText(payload map[string]any) string {
	if s, ok := payload["output_text"].(string); ok {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	blocks, _ := payload["output"].([]any)
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		content, _ := block["content"].([]any)
		for _, c := range content {
			item, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := item["text"].(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					return t
				}
			}
		}
	}
	return ""
}

// coerceOption parses one raw provider option, defaulting every numeric
// field that is invalid and clamping confidence to [0,1]. A non-positive
// provider totalPrice is recomputed as price + shipping + tax.
func coerceOption(raw any, nowISO string) PriceOption {
	m, _ := raw.(map[string]any)

	price, _ := asFloat(m["price"])

	shipping, ok := asFloat(m["shippingCost"])
	if !ok || shipping < 0 {
		shipping = 0
	}
	tax, ok := asFloat(m["taxEstimate"])
	if !ok || tax < 0 {
		tax = 0
	}
	total, ok := asFloat(m["totalPrice"])
	if !ok || total <= 0 {
		total = price + shipping + tax
	}

	confidence, ok := asFloat(m["confidence"])
	if !ok {
		confidence = 0.5
	}
	confidence = math.Max(0, math.Min(1, confidence))

	matchType := strings.ToLower(strings.TrimSpace(stringify(m["matchType"])))
	switch matchType {
	case "exact_sku", "exact_upc", "keyword":
	default:
		matchType = "keyword"
	}

	var distance *float64
	if d, ok := asFloat(m["distanceMiles"]); ok && d >= 0 {
		distance = &d
	}

	currency := strings.TrimSpace(stringify(m["currency"]))
	if currency == "" {
		currency = "USD"
	}
	checkedAt := strings.TrimSpace(stringify(m["checkedAt"]))
	if checkedAt == "" {
		checkedAt = nowISO
	}

	return PriceOption{
		Vendor:        strings.TrimSpace(stringify(m["vendor"])),
		VendorType:    strings.TrimSpace(stringify(m["vendorType"])),
		Title:         strings.TrimSpace(stringify(m["title"])),
		Price:         price,
		Currency:      currency,
		URL:           strings.TrimSpace(stringify(m["url"])),
		DistanceMiles: distance,
		MatchType:     matchType,
		UnitMatch:     asBool(m["unitMatch"]),
		Confidence:    confidence,
		ShippingCost:  shipping,
		TaxEstimate:   tax,
		TotalPrice:    total,
		CheckedAt:     checkedAt,
		NotesEs:       strings.TrimSpace(stringify(m["notesEs"])),
	}
}

// validOption enforces the minimum fields required before trusting a
// provider option: vendor, vendor type, title, a positive price and an
// http(s) URL.
func validOption(o PriceOption) bool {
	if o.Vendor == "" || o.VendorType == "" || o.Title == "" {
		return false
	}
	if o.Price <= 0 {
		return false
	}
	lower := strings.ToLower(o.URL)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func matchRank(o PriceOption) int {
	switch o.MatchType {
	case "exact_sku":
		return 3
	case "exact_upc":
		return 2
	default:
		return 1
	}
}

// rankBest returns the fallback best option: match-type rank descending,
// unit matches first, then cheapest total, then highest confidence.
func rankBest(options []PriceOption) PriceOption {
	sorted := make([]PriceOption, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if matchRank(a) != matchRank(b) {
			return matchRank(a) > matchRank(b)
		}
		if a.UnitMatch != b.UnitMatch {
			return a.UnitMatch
		}
		if a.TotalPrice != b.TotalPrice {
			return a.TotalPrice < b.TotalPrice
		}
		return a.Confidence > b.Confidence
	})
	return sorted[0]
}

// bestPrice prefers a positive provider-supplied best price and otherwise
// falls back to the rank-best option's unit price.
func bestPrice(raw any, best PriceOption) float64 {
	if v, ok := asFloat(raw); ok && v > 0 {
		return v
	}
	return best.Price
}

func fallbackString(raw any, fallback string) string {
	if s := strings.TrimSpace(stringify(raw)); s != "" {
		return s
	}
	return fallback
}

func summaryOrDefault(raw any, optionCount int) string {
	if s := strings.TrimSpace(stringify(raw)); s != "" {
		return s
	}
	return fmt.Sprintf("Se compararon %d opciones.", optionCount)
}

// exactMatchCount prefers a finite provider-supplied count, falling back
// to the number of exact SKU/UPC matches in the surviving options.
func exactMatchCount(raw any, options []PriceOption) int {
	if v, ok := asFloat(raw); ok {
		n := int(math.Trunc(v))
		if n < 0 {
			n = 0
		}
		return n
	}
	count := 0
	for _, o := range options {
		if o.MatchType == "exact_sku" || o.MatchType == "exact_upc" {
			count++
		}
	}
	return count
}

// deriveCoverage labels retailer presence by substring-matching vendor
// names, OR'd with any provider-supplied flags.
func deriveCoverage(raw any, options []PriceOption) Coverage {
	var c Coverage
	for _, o := range options {
		c.HomeDepot = c.HomeDepot || reHomeDepot.MatchString(o.Vendor)
		c.Lowes = c.Lowes || reLowes.MatchString(o.Vendor)
		c.Amazon = c.Amazon || reAmazon.MatchString(o.Vendor)
		c.Ebay = c.Ebay || reEbay.MatchString(o.Vendor)
		c.FacebookMarketplace = c.FacebookMarketplace || reFacebook.MatchString(o.Vendor)
		c.LocalSupplier = c.LocalSupplier || o.VendorType == "local_store"
	}
	if m, ok := raw.(map[string]any); ok {
		c.HomeDepot = c.HomeDepot || asBool(m["homeDepot"])
		c.Lowes = c.Lowes || asBool(m["lowes"])
		c.Amazon = c.Amazon || asBool(m["amazon"])
		c.Ebay = c.Ebay || asBool(m["ebay"])
		c.FacebookMarketplace = c.FacebookMarketplace || asBool(m["facebookMarketplace"])
		c.LocalSupplier = c.LocalSupplier || asBool(m["localSupplier"])
	}
	return c
}

func capOptions(options []PriceOption, max int) []PriceOption {
	if len(options) > max {
		return options[:max]
	}
	return options
}
