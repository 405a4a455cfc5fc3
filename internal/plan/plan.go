// Package plan turns dataset issue reports into declarative cleaning and
// transformation plans. A plan is data: an ordered list of typed steps plus
// validation rules and a target schema, serializable to the plan document
// artifact. All tuning constants (aggregate names, category membership, year
// bounds, column conventions) are injected into the steps from configuration
// here, so the executor interprets parameters and nothing else.
package plan

import (
	"fmt"
	"strings"

	"dq/internal/analyze"
	"dq/internal/config"
	"dq/internal/dataset"
	"dq/internal/meta"
)

// PlanVersion stamps generated documents.
const PlanVersion = "1.0"

const reasonNoISOCodes = `Regional aggregates (like "Africa", "World") do not have ISO codes`

// Extraction records where a dataset came from.
type Extraction struct {
	SourceFile string   `json:"source_file"`
	Encoding   string   `json:"encoding"`
	Rows       int      `json:"rows"`
	Columns    []string `json:"columns"`
}

// ValidationRule is one declarative post-load check.
type ValidationRule struct {
	Column        string         `json:"column"`
	Rule          string         `json:"rule"`
	ExpectedUnit  string         `json:"expected_unit,omitempty"`
	ExpectedRange *meta.Timespan `json:"expected_range,omitempty"`
}

// Validation rule names.
const (
	RuleUnitConsistency = "check_unit_consistency"
	RuleTimespan        = "check_timespan"
)

// SchemaField describes one column of the cleaned dataset's target schema.
type SchemaField struct {
	Type        string `json:"type"`
	Nullable    bool   `json:"nullable"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
}

// DatasetPlan is the full declarative plan for one dataset.
type DatasetPlan struct {
	Extraction     Extraction             `json:"extraction"`
	Cleaning       StepList               `json:"cleaning"`
	Transformation StepList               `json:"transformation"`
	Validation     []ValidationRule       `json:"validation"`
	FinalSchema    map[string]SchemaField `json:"final_schema"`
}

// DocumentMeta heads a plan document.
type DocumentMeta struct {
	PlanCreated   string `json:"plan_created"`
	TotalDatasets int    `json:"total_datasets"`
	PlanVersion   string `json:"plan_version"`
}

// Document is the persisted plan artifact: one DatasetPlan per dataset plus
// the cross-dataset integration plan.
type Document struct {
	Metadata    DocumentMeta           `json:"metadata"`
	Datasets    map[string]DatasetPlan `json:"datasets"`
	Integration IntegrationPlan        `json:"integration"`
}

// Generator builds plans. Config supplies every constant the steps carry.
type Generator struct {
	Config config.Planner
}

// DatasetPlan derives the ordered step lists for one dataset from its issue
// report. Cleaning rules are evaluated independently; any subset may fire.
// Step order within each list is meaningful and preserved by the executor.
func (g *Generator) DatasetPlan(name, sourceFile string, t *dataset.Table, m *meta.Meta, rep analyze.DatasetReport) DatasetPlan {
	p := DatasetPlan{
		Extraction: Extraction{
			SourceFile: sourceFile,
			Encoding:   "utf-8",
			Rows:       t.NumRows(),
			Columns:    t.ColumnNames(),
		},
		Cleaning:       StepList{},
		Transformation: StepList{},
		Validation:     []ValidationRule{},
	}

	// Rule 1: empty strings in the code column stand in for "no ISO code".
	if codeCol := columnFold(t, "code"); codeCol != "" {
		if cr, ok := rep.ColumnIssues[codeCol]; ok && cr.EmptyStrings > 0 {
			p.Cleaning = append(p.Cleaning, FillMissingCodes{
				Column:       codeCol,
				AffectedRows: cr.EmptyStrings,
				Reason:       reasonNoISOCodes,
			})
		}
	}

	// Rule 2: column names are always standardized; list the ones that change.
	var renames []string
	for _, n := range t.ColumnNames() {
		if dataset.StandardizeName(n) != n {
			renames = append(renames, n)
		}
	}
	p.Cleaning = append(p.Cleaning, StandardizeColumnNames{Columns: renames})

	// Rules 3 and 4: per-column dtype and sentinel findings, in column order.
	for _, n := range t.ColumnNames() {
		cr, ok := rep.ColumnIssues[n]
		if !ok {
			continue
		}
		for _, iss := range cr.Issues {
			if iss.Kind == analyze.IssueWrongDtype {
				p.Cleaning = append(p.Cleaning, ConvertDtype{
					Column: n,
					From:   iss.Actual,
					To:     "float64",
				})
			}
		}
		if len(cr.SpecialValues) > 0 {
			p.Cleaning = append(p.Cleaning, HandleSpecialValues{
				Column: n,
				Values: cr.SpecialValues,
			})
		}
	}

	// Rule 5: duplicates found by the analyzer.
	if rep.Summary.DuplicateRows > 0 {
		p.Cleaning = append(p.Cleaning, RemoveDuplicates{AffectedRows: rep.Summary.DuplicateRows})
	}

	// Rule 6: a time column wins over a year column; at most one of the two
	// steps fires.
	timeCol := columnFold(t, "time")
	yearCol := columnFold(t, "year")
	switch {
	case timeCol != "":
		p.Cleaning = append(p.Cleaning, StandardizeDates{
			Column:       timeCol,
			TargetFormat: "YYYY-MM-DD",
		})
	case yearCol != "":
		p.Cleaning = append(p.Cleaning, ValidateYears{
			Column:       yearCol,
			MinYear:      g.Config.MinYear,
			MaxYear:      g.Config.MaxYear,
			CurrentRange: observedYearRange(t, yearCol),
		})
	}

	// Transformations. Metadata enrichment first, derived metrics second,
	// entity classification last.
	if m != nil {
		p.Transformation = append(p.Transformation, AddMetadataColumns{
			Fields: []string{SourceColumn, QualityFlagColumn, LastUpdatedColumn},
		})
	}
	if contains(g.Config.TotalsDatasets, name) {
		p.Transformation = append(p.Transformation,
			CalculateTotals{
				NewColumn: g.Config.TotalColumn,
				Suffix:    g.Config.TotalSuffix,
				Exclude:   g.Config.TotalExclude,
			},
			CalculatePercentages{
				TotalColumn: g.Config.TotalColumn,
				Suffix:      g.Config.TotalSuffix,
				Categories:  g.categories(),
				NewColumns:  g.percentColumns(),
			},
		)
	}
	if contains(g.Config.TradeDatasets, name) {
		p.Transformation = append(p.Transformation, CalculateDifference{
			NewColumn:   NetTradeColumn,
			Production:  g.Config.ProductionColumn,
			Consumption: g.Config.ConsumptionColumn,
			FlagColumn:  NetExporterColumn,
		})
	}
	p.Transformation = append(p.Transformation, NormalizeEntities{
		NewColumn:  EntityTypeColumn,
		Aggregates: g.Config.Aggregates,
	})

	p.Validation = validationRules(m)
	p.FinalSchema = g.finalSchema(t, m)
	return p
}

func (g *Generator) categories() []Category {
	return []Category{
		{Name: "renewable", Sources: g.Config.RenewableMarkers},
		{Name: "fossil", Sources: g.Config.FossilMarkers},
		{Name: "nuclear", Sources: g.Config.NuclearMarkers},
	}
}

func (g *Generator) percentColumns() []string {
	cats := g.categories()
	cols := make([]string, len(cats))
	for i, c := range cats {
		cols[i] = PercentPrefix + c.Name
	}
	return cols
}

// validationRules emits one rule per declared unit and per declared timespan.
func validationRules(m *meta.Meta) []ValidationRule {
	rules := []ValidationRule{}
	if m == nil {
		return rules
	}
	for _, name := range m.ColumnNames() {
		cm := m.Columns[name]
		if cm.Unit != "" {
			rules = append(rules, ValidationRule{
				Column:       name,
				Rule:         RuleUnitConsistency,
				ExpectedUnit: cm.Unit,
			})
		}
		if cm.Timespan != nil {
			ts := *cm.Timespan
			rules = append(rules, ValidationRule{
				Column:        name,
				Rule:          RuleTimespan,
				ExpectedRange: &ts,
			})
		}
	}
	return rules
}

// finalSchema lays out the cleaned dataset's target schema: identity columns
// by presence, then one always-nullable field per declared metadata column.
func (g *Generator) finalSchema(t *dataset.Table, m *meta.Meta) map[string]SchemaField {
	schema := make(map[string]SchemaField)
	if columnFold(t, "entity") != "" {
		schema["entity"] = SchemaField{Type: "string", Nullable: false}
		schema["code"] = SchemaField{Type: "string", Nullable: true}
	}
	if columnFold(t, "time") != "" {
		schema[DateColumn] = SchemaField{Type: "datetime64", Nullable: false}
	} else if columnFold(t, "year") != "" {
		schema["year"] = SchemaField{Type: "int16", Nullable: false}
	}
	if m != nil {
		for _, name := range m.ColumnNames() {
			cm := m.Columns[name]
			typ := "string"
			if cm.Type == meta.TypeNumeric {
				typ = "float32"
			}
			schema[dataset.StandardizeName(name)] = SchemaField{
				Type:        typ,
				Nullable:    true,
				Unit:        cm.Unit,
				Description: cm.Description,
			}
		}
	}
	return schema
}

// observedYearRange formats the min-max of coercible year values, or "" when
// none parse.
func observedYearRange(t *dataset.Table, yearCol string) string {
	c, ok := t.Column(yearCol)
	if !ok {
		return ""
	}
	var lo, hi int64
	seen := false
	for _, v := range c.Cells {
		y, ok := dataset.CoerceInt(v)
		if !ok {
			continue
		}
		if !seen || y < lo {
			lo = y
		}
		if !seen || y > hi {
			hi = y
		}
		seen = true
	}
	if !seen {
		return ""
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

// columnFold finds a column by case-insensitive name and returns its actual
// name, or "".
func columnFold(t *dataset.Table, name string) string {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c.Name
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
