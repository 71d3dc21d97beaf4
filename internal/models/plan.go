package models

// Plan is one entry of the static subscription catalog.
type Plan struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	PriceCents  int64    `json:"price_cents"`
	Interval    string   `json:"interval"`
	Features    []string `json:"features"`
	Highlighted bool     `json:"highlighted"`
	StripePrice string   `json:"-"`
}

// Plan identifiers.
const (
	PlanStarter      = "starter"
	PlanGrowth       = "growth"
	PlanProfessional = "professional"
)

// PlanCatalog is the ordered, immutable list of plans.
type PlanCatalog struct {
	plans []Plan
}

// DefaultPlans returns the catalog definitions without processor price ids.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:         PlanStarter,
			Name:       "Starter",
			PriceCents: 14900,
			Interval:   "month",
			Features: []string{
				"Monthly bookkeeping up to 100 transactions",
				"Bank and credit card reconciliation",
				"Monthly profit and loss statement",
				"Secure document exchange",
			},
		},
		{
			ID:          PlanGrowth,
			Name:        "Growth",
			PriceCents:  29900,
			Interval:    "month",
			Highlighted: true,
			Features: []string{
				"Monthly bookkeeping up to 300 transactions",
				"Full financial statement package",
				"Payroll report review",
				"Priority messaging",
			},
		},
		{
			ID:         PlanProfessional,
			Name:       "Professional",
			PriceCents: 49900,
			Interval:   "month",
			Features: []string{
				"Unlimited transactions",
				"Weekly reconciliation",
				"Quarterly advisory call",
				"Year-end tax package preparation",
			},
		},
	}
}

// NewPlanCatalog binds processor price ids (keyed by plan id) to the default plans.
func NewPlanCatalog(priceIDs map[string]string) *PlanCatalog {
	plans := DefaultPlans()
	for i := range plans {
		plans[i].StripePrice = priceIDs[plans[i].ID]
	}
	return &PlanCatalog{plans: plans}
}

// All returns the plans in catalog order.
func (c *PlanCatalog) All() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Lookup returns the plan with the given id.
func (c *PlanCatalog) Lookup(id string) (Plan, bool) {
	for _, p := range c.plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// InferByPrice resolves a plan from processor price data. An exact price id
// match wins; otherwise the first plan in catalog order with the same unit
// amount is returned, so two plans sharing a price resolve to the earlier one.
func (c *PlanCatalog) InferByPrice(priceID string, unitAmount int64) (Plan, bool) {
	if priceID != "" {
		for _, p := range c.plans {
			if p.StripePrice != "" && p.StripePrice == priceID {
				return p, true
			}
		}
	}
	if unitAmount > 0 {
		for _, p := range c.plans {
			if p.PriceCents == unitAmount {
				return p, true
			}
		}
	}
	return Plan{}, false
}
