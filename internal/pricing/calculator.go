package pricing

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/shopspring/decimal"
)

// RuleLookup finds the tax rate configured for a region.
// found is false when the region has no rule; err is reserved for storage failures.
type RuleLookup interface {
	Lookup(ctx context.Context, region string) (rate domain.TaxRate, found bool, err error)
}

type Config struct {
	DefaultRegion string
	// Fallback applies when neither the requested nor the default region has a rule.
	Fallback domain.TaxRate
}

// RegionRequest carries the region candidates for a computation, most specific first.
type RegionRequest struct {
	Code        string
	ProfileCode string
}

type Calculator struct {
	rules RuleLookup
	cfg   Config
}

func NewCalculator(rules RuleLookup, cfg Config) *Calculator {
	cfg.DefaultRegion = normalizeRegion(cfg.DefaultRegion)
	return &Calculator{rules: rules, cfg: cfg}
}

// Compute returns subtotal, tax and total for the given lines.
// Tax is rounded half-up to 2 decimals once, after multiplying the full subtotal.
func (c *Calculator) Compute(ctx context.Context, lines []domain.CartLine, req RegionRequest) (domain.Totals, error) {
	if len(lines) == 0 {
		return domain.Totals{
			Subtotal:   decimal.Zero,
			TaxName:    domain.NoTaxName,
			TaxPercent: decimal.Zero,
			TaxAmount:  decimal.Zero,
			Total:      decimal.Zero,
		}, nil
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal())
	}

	rate, err := c.ResolveRate(ctx, c.pickRegion(req))
	if err != nil {
		return domain.Totals{}, err
	}

	tax := subtotal.Mul(rate.Percent).Shift(-2).Round(2)
	return domain.Totals{
		Subtotal:   subtotal,
		TaxName:    rate.Name,
		TaxPercent: rate.Percent.Round(2),
		TaxAmount:  tax,
		Total:      subtotal.Add(tax),
		RegionCode: rate.Region,
	}, nil
}

// ResolveRate walks region -> default region -> fallback rate.
func (c *Calculator) ResolveRate(ctx context.Context, region string) (domain.TaxRate, error) {
	region = normalizeRegion(region)
	if region == "" {
		region = c.cfg.DefaultRegion
	}

	rate, found, err := c.rules.Lookup(ctx, region)
	if err != nil {
		return domain.TaxRate{}, fmt.Errorf("lookup tax rule %s: %w", region, err)
	}
	if found {
		return rate, nil
	}

	if region != c.cfg.DefaultRegion {
		rate, found, err = c.rules.Lookup(ctx, c.cfg.DefaultRegion)
		if err != nil {
			return domain.TaxRate{}, fmt.Errorf("lookup default tax rule: %w", err)
		}
		if found {
			return rate, nil
		}
	}

	fallback := c.cfg.Fallback
	if fallback.Region == "" {
		fallback.Region = c.cfg.DefaultRegion
	}
	return fallback, nil
}

func (c *Calculator) pickRegion(req RegionRequest) string {
	if code := normalizeRegion(req.Code); code != "" {
		return code
	}
	if code := normalizeRegion(req.ProfileCode); code != "" {
		return code
	}
	return c.cfg.DefaultRegion
}

func normalizeRegion(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
