package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"
)

// Valuation model constants. Rates follow the county's published schedule;
// real comparable selection lives outside this service.
const (
	replacementCostPerSqFt = 200.0
	landValuePerSqFt       = 10.0
	rentalRatePerSqFt      = 15.0
	vacancyRate            = 0.05
	expenseRatio           = 0.40
	capitalizationRate     = 0.07
	maxDepreciation        = 0.5
)

var marketMultipliers = map[string]float64{
	"Residential":  1.05,
	"Commercial":   1.03,
	"Industrial":   1.02,
	"Agricultural": 1.01,
	"Vacant Land":  1.04,
	"Public":       1.00,
}

// ValuationAgent calculates property values using the market comparison,
// cost, and income approaches.
type ValuationAgent struct {
	logger *log.Logger
	now    func() time.Time
}

func NewValuationAgent(logger *log.Logger, now func() time.Time) *ValuationAgent {
	if now == nil {
		now = time.Now
	}
	return &ValuationAgent{logger: logger, now: now}
}

type valuationRequest struct {
	PropertyData *PropertyData `json:"property_data"`
	Approach     string        `json:"valuation_approach"`
}

// MarketValuation is the market comparison result.
type MarketValuation struct {
	MarketValue      float64 `json:"market_value"`
	BaseValue        float64 `json:"base_value"`
	MarketMultiplier float64 `json:"market_multiplier"`
	PropertyClass    string  `json:"property_class"`
	Methodology      string  `json:"methodology"`
	ConfidenceScore  float64 `json:"confidence_score"`
}

// CostValuation is the replacement-cost result.
type CostValuation struct {
	CostValue        float64 `json:"cost_value"`
	ReplacementCost  float64 `json:"replacement_cost"`
	DepreciatedCost  float64 `json:"depreciated_cost"`
	LandValue        float64 `json:"land_value"`
	DepreciationRate float64 `json:"depreciation_rate"`
	BuildingAge      int     `json:"building_age"`
	Methodology      string  `json:"methodology"`
	ConfidenceScore  float64 `json:"confidence_score"`
}

// IncomeValuation is the income capitalization result.
type IncomeValuation struct {
	IncomeValue          *float64 `json:"income_value"`
	PotentialGrossIncome float64  `json:"potential_gross_income,omitempty"`
	EffectiveGrossIncome float64  `json:"effective_gross_income,omitempty"`
	NetOperatingIncome   float64  `json:"net_operating_income,omitempty"`
	CapRate              float64  `json:"cap_rate,omitempty"`
	Error                string   `json:"error,omitempty"`
	Methodology          string   `json:"methodology"`
	ConfidenceScore      float64  `json:"confidence_score"`
}

func (a *ValuationAgent) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req valuationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if req.PropertyData == nil {
		return nil, fmt.Errorf("no property data provided for valuation")
	}
	approach := req.Approach
	if approach == "" {
		approach = "market"
	}

	var result any
	switch approach {
	case "market":
		result = a.MarketApproach(*req.PropertyData)
	case "cost":
		result = a.CostApproach(*req.PropertyData)
	case "income":
		result = a.IncomeApproach(*req.PropertyData)
	default:
		return nil, fmt.Errorf("invalid valuation approach. Must be one of: market, cost, income")
	}

	return json.Marshal(map[string]any{
		"valuation_results": result,
		"approach":          approach,
	})
}

func (a *ValuationAgent) MarketApproach(data PropertyData) MarketValuation {
	base := 0.0
	if data.AssessedValue != nil {
		base = *data.AssessedValue
	}
	class := data.PropertyClass
	if class == "" {
		class = "Residential"
	}
	multiplier, ok := marketMultipliers[class]
	if !ok {
		multiplier = 1.0
	}
	return MarketValuation{
		MarketValue:      round2(base * multiplier),
		BaseValue:        base,
		MarketMultiplier: multiplier,
		PropertyClass:    class,
		Methodology:      "market_comparison",
		ConfidenceScore:  0.85,
	}
}

func (a *ValuationAgent) CostApproach(data PropertyData) CostValuation {
	yearBuilt := data.YearBuilt
	if yearBuilt == 0 {
		yearBuilt = 2000
	}
	buildingArea := data.BuildingArea
	if buildingArea == 0 {
		buildingArea = 1500
	}
	landArea := data.LandArea
	if landArea == 0 {
		landArea = 5000
	}

	age := a.now().Year() - yearBuilt
	if age < 0 {
		age = 0
	}
	depreciation := math.Min(maxDepreciation, float64(age)*0.01)

	replacement := buildingArea * replacementCostPerSqFt
	depreciated := replacement * (1 - depreciation)
	land := landArea * landValuePerSqFt

	return CostValuation{
		CostValue:        round2(depreciated + land),
		ReplacementCost:  round2(replacement),
		DepreciatedCost:  round2(depreciated),
		LandValue:        round2(land),
		DepreciationRate: depreciation,
		BuildingAge:      age,
		Methodology:      "cost_approach",
		ConfidenceScore:  0.80,
	}
}

func (a *ValuationAgent) IncomeApproach(data PropertyData) IncomeValuation {
	class := data.PropertyClass
	if class != "Commercial" && class != "Industrial" {
		return IncomeValuation{
			Error:           "Income approach is only applicable for Commercial and Industrial properties",
			Methodology:     "income_approach",
			ConfidenceScore: 0,
		}
	}

	buildingArea := data.BuildingArea
	if buildingArea == 0 {
		buildingArea = 1500
	}

	potential := buildingArea * rentalRatePerSqFt
	effective := potential * (1 - vacancyRate)
	noi := effective * (1 - expenseRatio)
	value := round2(noi / capitalizationRate)

	return IncomeValuation{
		IncomeValue:          &value,
		PotentialGrossIncome: round2(potential),
		EffectiveGrossIncome: round2(effective),
		NetOperatingIncome:   round2(noi),
		CapRate:              capitalizationRate,
		Methodology:          "income_approach",
		ConfidenceScore:      0.75,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
