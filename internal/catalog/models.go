package catalog

// FeatureType classifies a billable feature's access tier.
type FeatureType string

const (
	FeatureBasic     FeatureType = "basic"
	FeaturePremium   FeatureType = "premium"
	FeatureExclusive FeatureType = "exclusive"
)

// DiscountPAYG is the discount key applied to pay-as-you-go overage pricing.
const DiscountPAYG = "PAYG"

// TariffPlan defines a subscription plan: included per-feature unit limits,
// overage discounts, gated feature access, and team seat terms.
type TariffPlan struct {
	Name           string             `yaml:"name" json:"name" validate:"required"`
	MonthlyPrice   float64            `yaml:"monthly_price" json:"monthly_price" validate:"gte=0"`
	IncludedLimits map[string]int64   `yaml:"included_limits" json:"included_limits" validate:"dive,gte=0"`
	Discounts      map[string]float64 `yaml:"discounts" json:"discounts" validate:"dive,gte=0,lte=1"`
	AccessFeatures []string           `yaml:"access_features" json:"access_features"`
	MaxTeamMembers int                `yaml:"max_team_members" json:"max_team_members" validate:"gte=0"`
	MemberPrice    float64            `yaml:"member_price" json:"member_price" validate:"gte=0"`
}

// IncludedLimit returns the number of units of the given feature covered by
// the plan per billing period, or 0 if the feature is not listed.
func (t *TariffPlan) IncludedLimit(feature string) int64 {
	if t == nil {
		return 0
	}
	return t.IncludedLimits[feature]
}

// PAYGDiscount returns the plan's pay-as-you-go discount rate, or 0 if none
// is configured.
func (t *TariffPlan) PAYGDiscount() float64 {
	if t == nil {
		return 0
	}
	return t.Discounts[DiscountPAYG]
}

// HasFeature reports whether the plan lists the feature in its access set.
func (t *TariffPlan) HasFeature(feature string) bool {
	if t == nil {
		return false
	}
	for _, f := range t.AccessFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

// FeatureConfig defines pricing metadata for a single billable feature.
type FeatureConfig struct {
	Name          string      `yaml:"name" json:"name" validate:"required"`
	Type          FeatureType `yaml:"type" json:"type" validate:"required,oneof=basic premium exclusive"`
	Unit          string      `yaml:"unit" json:"unit" validate:"required,oneof=call minute token"`
	PricePerUnit  float64     `yaml:"price_per_unit" json:"price_per_unit" validate:"gte=0"`
	AccessTariffs []string    `yaml:"access_tariffs" json:"access_tariffs,omitempty"`
	Description   string      `yaml:"description" json:"description,omitempty"`
}

// Gated reports whether the feature restricts access to an allow-list of
// tariffs. Only exclusive features with a non-empty allow-list are gated.
func (f *FeatureConfig) Gated() bool {
	return f.Type == FeatureExclusive && len(f.AccessTariffs) > 0
}

// AccessibleFrom reports whether an organization on the given tariff may use
// this feature. Ungated features are accessible from any tariff, including
// none.
func (f *FeatureConfig) AccessibleFrom(tariffName string) bool {
	if !f.Gated() {
		return true
	}
	for _, t := range f.AccessTariffs {
		if t == tariffName {
			return true
		}
	}
	return false
}
