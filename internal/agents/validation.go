package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
)

// ValidationRules are the Department of Revenue checks applied to property
// records.
type ValidationRules struct {
	ParcelIDPattern  *regexp.Regexp
	MinPropertyValue float64
	MaxPropertyValue float64
	MinYear          int
	MaxYear          int
	PropertyClasses  map[string]string
}

func DefaultValidationRules() ValidationRules {
	return ValidationRules{
		ParcelIDPattern:  regexp.MustCompile(`^\d{8}-\d{3}$`),
		MinPropertyValue: 1000.0,
		MaxPropertyValue: 1_000_000_000.0,
		MinYear:          2020,
		MaxYear:          2026,
		PropertyClasses: map[string]string{
			"Residential":  "Single and multi-family dwellings",
			"Commercial":   "Retail, office, and service properties",
			"Industrial":   "Manufacturing and processing facilities",
			"Agricultural": "Farm and timber land",
			"Vacant Land":  "Unimproved parcels",
			"Public":       "Government and exempt properties",
		},
	}
}

// PropertyData is one property record submitted for validation.
type PropertyData struct {
	ParcelID        string   `json:"parcel_id"`
	PropertyAddress string   `json:"property_address"`
	AssessmentYear  *int     `json:"assessment_year"`
	AssessedValue   *float64 `json:"assessed_value"`
	PropertyClass   string   `json:"property_class"`
	YearBuilt       int      `json:"year_built,omitempty"`
	BuildingArea    float64  `json:"building_area,omitempty"`
	LandArea        float64  `json:"land_area,omitempty"`
}

// ValidationResults reports the outcome for one property.
type ValidationResults struct {
	HasErrors   bool     `json:"has_errors"`
	HasWarnings bool     `json:"has_warnings"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
}

// ValidationAgent checks property records against assessment standards.
type ValidationAgent struct {
	rules  ValidationRules
	logger *log.Logger
}

func NewValidationAgent(rules ValidationRules, logger *log.Logger) *ValidationAgent {
	return &ValidationAgent{rules: rules, logger: logger}
}

// Validate applies every rule and collects errors and warnings.
func (a *ValidationAgent) Validate(data PropertyData) ValidationResults {
	var errs, warns []string

	if data.ParcelID == "" {
		errs = append(errs, "Parcel ID is required")
	} else if !a.rules.ParcelIDPattern.MatchString(data.ParcelID) {
		errs = append(errs, fmt.Sprintf("Invalid parcel ID format. Must match pattern: %s", a.rules.ParcelIDPattern))
	}

	if data.PropertyAddress == "" {
		errs = append(errs, "Property address is required")
	} else if !strings.HasSuffix(data.PropertyAddress, "WA") && !strings.HasSuffix(data.PropertyAddress, "Washington") {
		warns = append(warns, "Property address should include Washington state")
	}

	if data.AssessmentYear == nil {
		errs = append(errs, "Assessment year is required")
	} else if *data.AssessmentYear < a.rules.MinYear || *data.AssessmentYear > a.rules.MaxYear {
		errs = append(errs, fmt.Sprintf("Assessment year must be between %d and %d", a.rules.MinYear, a.rules.MaxYear))
	}

	if data.AssessedValue == nil {
		errs = append(errs, "Assessed value is required")
	} else if *data.AssessedValue < a.rules.MinPropertyValue {
		errs = append(errs, fmt.Sprintf("Assessed value cannot be less than $%.2f", a.rules.MinPropertyValue))
	} else if *data.AssessedValue > a.rules.MaxPropertyValue {
		errs = append(errs, fmt.Sprintf("Assessed value cannot exceed $%.2f", a.rules.MaxPropertyValue))
	}

	if data.PropertyClass == "" {
		errs = append(errs, "Property class is required")
	} else if _, ok := a.rules.PropertyClasses[data.PropertyClass]; !ok {
		names := make([]string, 0, len(a.rules.PropertyClasses))
		for name := range a.rules.PropertyClasses {
			names = append(names, name)
		}
		sort.Strings(names)
		errs = append(errs, fmt.Sprintf("Invalid property class. Must be one of: %s", strings.Join(names, ", ")))
	}

	return ValidationResults{
		HasErrors:   len(errs) > 0,
		HasWarnings: len(warns) > 0,
		Errors:      errs,
		Warnings:    warns,
	}
}

type validateRequest struct {
	PropertyData *PropertyData `json:"property_data"`
}

type validateResponse struct {
	ValidationResults ValidationResults `json:"validation_results"`
}

// HandleValidate is the property_validation capability.
func (a *ValidationAgent) HandleValidate(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req validateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if req.PropertyData == nil {
		return nil, fmt.Errorf("no property data provided for validation")
	}
	results := a.Validate(*req.PropertyData)
	return json.Marshal(validateResponse{ValidationResults: results})
}

type batchRequest struct {
	Properties []PropertyData `json:"properties"`
}

type batchItem struct {
	PropertyData      PropertyData      `json:"property_data"`
	ValidationResults ValidationResults `json:"validation_results"`
}

type batchResponse struct {
	BatchResults []batchItem `json:"batch_results"`
	Summary      struct {
		Total   int `json:"total"`
		Valid   int `json:"valid"`
		Invalid int `json:"invalid"`
	} `json:"summary"`
}

// HandleBatch is the batch_validate capability.
func (a *ValidationAgent) HandleBatch(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req batchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if len(req.Properties) == 0 {
		return nil, fmt.Errorf("no properties provided for batch validation")
	}

	resp := batchResponse{BatchResults: make([]batchItem, 0, len(req.Properties))}
	for _, prop := range req.Properties {
		results := a.Validate(prop)
		resp.BatchResults = append(resp.BatchResults, batchItem{PropertyData: prop, ValidationResults: results})
		resp.Summary.Total++
		if results.HasErrors {
			resp.Summary.Invalid++
		} else {
			resp.Summary.Valid++
		}
	}
	return json.Marshal(resp)
}
