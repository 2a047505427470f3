package detect

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
)

// paymentDomains are hosts whose presence alone implies a purchase flow.
var paymentDomains = []string{
	"checkout.stripe.com", "*.stripe.com",
	"www.paypal.com", "*.paypal.com",
	"pay.google.com", "*.squareup.com",
	"checkout.shopify.com", "*.myshopify.com",
	"*.braintreegateway.com", "*.adyen.com",
	"secure.worldpay.com", "*.klarna.com",
}

// purchasePathTier grades URL paths by how specific they are to payment.
type purchasePathTier struct {
	fragment   string
	confidence float64
}

var purchasePaths = []purchasePathTier{
	{"/checkout", 0.9},
	{"/payment", 0.9},
	{"/pay", 0.85},
	{"/billing", 0.8},
	{"/order", 0.75},
	{"/purchase", 0.75},
	{"/subscribe", 0.7},
	{"/cart", 0.6},
	{"/api/charges", 0.9},
	{"/api/payments", 0.9},
	{"/api/orders", 0.7},
}

// purchaseFields are input keys that carry payment instrument or amount
// data.
var purchaseFields = []string{
	"card_number", "cardnumber", "cc_number", "cvv", "cvc",
	"expiry", "exp_month", "exp_year",
	"amount", "total", "price", "payment_method", "billing_address",
}

// amountFields are the subset of purchaseFields evaluated against spend
// limits.
var amountFields = []string{"amount", "total", "price"}

// PurchaseDetector recognizes payment flows by domain, URL path, form
// fields, and spend amounts.
type PurchaseDetector struct {
	rule   config.RuleConfig
	logger *slog.Logger
}

// NewPurchaseDetector builds the detector from the purchase rule config.
func NewPurchaseDetector(cfg *config.Config, logger *slog.Logger) *PurchaseDetector {
	return &PurchaseDetector{rule: cfg.RuleFor(contracts.CategoryPurchase), logger: logger}
}

// Category implements Detector.
func (d *PurchaseDetector) Category() contracts.ThreatCategory {
	return contracts.CategoryPurchase
}

// Detect implements Detector.
func (d *PurchaseDetector) Detect(_ context.Context, call *contracts.ToolCall) *contracts.Detection {
	for _, raw := range extractURLs(call) {
		if det := d.matchURL(raw); det != nil {
			return applyRuleSeverity(det, d.rule)
		}
	}
	if det := d.matchFields(call); det != nil {
		return applyRuleSeverity(det, d.rule)
	}
	return nil
}

func (d *PurchaseDetector) matchURL(raw string) *contracts.Detection {
	host := hostOf(raw)
	if host == "" {
		return nil
	}

	// Domain matcher. In allowlist mode anything not allowlisted is a
	// finding; in the default blocklist mode the known payment domains plus
	// the user blocklist fire.
	switch d.rule.Mode {
	case "allowlist":
		if !matchesAny(d.rule.Allowlist, host) {
			return d.finding(contracts.SeverityHigh, 0.85,
				"purchase domain "+host+" is not allowlisted",
				map[string]any{"domain": host})
		}
	default:
		if matchesAny(paymentDomains, host) || matchesAny(d.rule.Blocklist, host) {
			return d.finding(contracts.SeverityHigh, 0.9,
				"payment domain "+host,
				map[string]any{"domain": host})
		}
	}

	// URL-path matcher with tiered confidence.
	if u, err := url.Parse(raw); err == nil {
		path := strings.ToLower(u.Path)
		for _, tier := range purchasePaths {
			if strings.Contains(path, tier.fragment) {
				return d.finding(contracts.SeverityHigh, tier.confidence,
					"purchase path "+tier.fragment+" on "+host,
					map[string]any{"domain": host, "path": u.Path})
			}
		}
	}
	return nil
}

func (d *PurchaseDetector) matchFields(call *contracts.ToolCall) *contracts.Detection {
	var matched []string
	var amounts []float64

	walkStrings("", call.Input, func(path, _ string) {
		d.collectField(call, path, &matched, &amounts)
	})
	// Numeric leaves don't reach walkStrings; check top-level keys directly.
	for key, v := range call.Input {
		if _, ok := v.(string); ok {
			continue
		}
		d.collectFieldValue(key, v, &matched, &amounts)
	}

	if len(matched) == 0 {
		return nil
	}

	// Spend-limit evaluator: an amount over the cap dominates the message.
	if limits := d.rule.SpendLimits; limits != nil && limits.PerTransaction > 0 {
		for _, amt := range amounts {
			if amt > limits.PerTransaction {
				return d.finding(contracts.SeverityHigh, 0.95,
					fmt.Sprintf("amount %.2f exceeds per-transaction limit %.2f", amt, limits.PerTransaction),
					map[string]any{"fields": matched, "amount": amt, "limit": limits.PerTransaction})
			}
		}
	}

	conf := 0.7
	if len(matched) > 1 {
		conf = 0.85
	}
	meta := map[string]any{"fields": matched}
	// Surface the amount so the engine's daily ledger can see it.
	if len(amounts) > 0 {
		max := amounts[0]
		for _, amt := range amounts[1:] {
			if amt > max {
				max = amt
			}
		}
		meta["amount"] = max
	}
	return d.finding(contracts.SeverityHigh, conf,
		"payment form fields present: "+strings.Join(matched, ", "), meta)
}

func (d *PurchaseDetector) collectField(call *contracts.ToolCall, path string, matched *[]string, amounts *[]float64) {
	key := lastSegment(path)
	if !containsFold(purchaseFields, key) {
		return
	}
	*matched = append(*matched, key)
	if containsFold(amountFields, key) {
		if v, ok := lookupPath(call.Input, path); ok {
			if amt, ok := numericValue(v); ok {
				*amounts = append(*amounts, amt)
			}
		}
	}
}

func (d *PurchaseDetector) collectFieldValue(key string, v any, matched *[]string, amounts *[]float64) {
	if !containsFold(purchaseFields, key) {
		return
	}
	*matched = append(*matched, key)
	if containsFold(amountFields, key) {
		if amt, ok := numericValue(v); ok {
			*amounts = append(*amounts, amt)
		}
	}
}

func (d *PurchaseDetector) finding(sev contracts.Severity, conf float64, reason string, meta map[string]any) *contracts.Detection {
	return &contracts.Detection{
		Category:   contracts.CategoryPurchase,
		Severity:   sev,
		Confidence: conf,
		Reason:     reason,
		Metadata:   meta,
	}
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.Index(path, "["); i >= 0 {
		path = path[:i]
	}
	return path
}

func containsFold(set []string, key string) bool {
	for _, s := range set {
		if strings.EqualFold(s, key) {
			return true
		}
	}
	return false
}

func lookupPath(input map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = input
	for _, part := range parts {
		part = strings.SplitN(part, "[", 2)[0]
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
