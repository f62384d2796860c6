package credit

import (
	"fmt"

	"github.com/iconforge/server/internal/model"
)

// Allotment is what a tier grants.
type Allotment struct {
	Daily   int
	Monthly int
}

// TierTable maps each tier to its allotment.
type TierTable map[model.Tier]Allotment

// DefaultTierTable returns the built-in allotments.
func DefaultTierTable() TierTable {
	return TierTable{
		model.TierFree:       {Daily: 5, Monthly: 500},
		model.TierPro:        {Daily: 20, Monthly: 1000},
		model.TierEnterprise: {Daily: 50, Monthly: 2000},
	}
}

// Lookup returns the allotment for tier.
func (t TierTable) Lookup(tier model.Tier) (Allotment, bool) {
	a, ok := t[tier]
	return a, ok
}

// Validate checks that every tier is present with a positive daily allotment.
func (t TierTable) Validate() error {
	for _, tier := range []model.Tier{model.TierFree, model.TierPro, model.TierEnterprise} {
		a, ok := t[tier]
		if !ok {
			return fmt.Errorf("tier %s: missing allotment", tier)
		}
		if a.Daily <= 0 || a.Monthly < 0 {
			return fmt.Errorf("tier %s: invalid allotment %d/%d", tier, a.Daily, a.Monthly)
		}
	}
	return nil
}
