package plan

import (
	"encoding/json"
	"fmt"
)

// Step kind discriminators, used as the "step" key in plan documents.
const (
	KindFillMissingCodes       = "fill_missing_codes"
	KindStandardizeColumnNames = "standardize_column_names"
	KindConvertDtype           = "convert_dtype"
	KindHandleSpecialValues    = "handle_special_values"
	KindRemoveDuplicates       = "remove_duplicates"
	KindStandardizeDates       = "standardize_dates"
	KindValidateYears          = "validate_years"
	KindAddMetadataColumns     = "add_metadata_columns"
	KindCalculateTotals        = "calculate_totals"
	KindCalculatePercentages   = "calculate_percentages"
	KindCalculateDifference    = "calculate_difference"
	KindNormalizeEntities      = "normalize_entities"
)

// Derived column names the transformation steps create.
const (
	DateColumn        = "date"
	EntityTypeColumn  = "entity_type"
	NetTradeColumn    = "net_energy_trade_twh"
	NetExporterColumn = "is_net_exporter"
	PercentPrefix     = "pct_"
)

// Metadata columns attached by add_metadata_columns.
const (
	SourceColumn      = "data_source"
	QualityFlagColumn = "data_quality_flag"
	LastUpdatedColumn = "last_updated"
)

// Step is one declarative plan entry. Steps carry parameters only, no
// executable behavior; the executor interprets them by kind. The set of
// implementations is closed: a kind read from a plan file that matches no
// variant decodes as Unknown.
type Step interface {
	Kind() string
	step()
}

// FillMissingCodes replaces empty strings in a code column with null.
type FillMissingCodes struct {
	Column       string
	AffectedRows int
	Reason       string
}

// StandardizeColumnNames rewrites every column name to the standardized
// form. Columns lists the original names that will change.
type StandardizeColumnNames struct {
	Columns []string
}

// ConvertDtype coerces a textual column to numeric storage.
type ConvertDtype struct {
	Column string
	From   string
	To     string
}

// HandleSpecialValues replaces sentinel strings in a column with null.
// Values records what the analyzer detected; the executor replaces the full
// sentinel set regardless.
type HandleSpecialValues struct {
	Column string
	Values []string
}

// RemoveDuplicates drops rows identical to an earlier row.
type RemoveDuplicates struct {
	AffectedRows int
}

// StandardizeDates parses a timestamp column and adds a date-only column.
type StandardizeDates struct {
	Column       string
	TargetFormat string
}

// ValidateYears coerces the year column to integer and removes rows outside
// [MinYear, MaxYear]. CurrentRange is the observed range at planning time.
type ValidateYears struct {
	Column       string
	MinYear      int
	MaxYear      int
	CurrentRange string
}

// AddMetadataColumns attaches provenance columns.
type AddMetadataColumns struct {
	Fields []string
}

// CalculateTotals sums every column named <source><sep>Suffix, minus the
// exclusions, into NewColumn.
type CalculateTotals struct {
	NewColumn string
	Suffix    string
	Exclude   []string
}

// Category names one generation source group for percentage calculation.
type Category struct {
	Name    string   `json:"name"`
	Sources []string `json:"sources"`
}

// CalculatePercentages derives per-category generation shares against the
// total column.
type CalculatePercentages struct {
	TotalColumn string
	Suffix      string
	Categories  []Category
	NewColumns  []string
}

// CalculateDifference derives net trade from production and consumption
// columns plus a positive-balance flag.
type CalculateDifference struct {
	NewColumn   string
	Production  string
	Consumption string
	FlagColumn  string
}

// NormalizeEntities classifies each entity as aggregate or country by
// substring match against the aggregate name list.
type NormalizeEntities struct {
	NewColumn  string
	Aggregates []string
}

// Unknown preserves a step whose kind no variant recognizes. The executor
// records it as skipped.
type Unknown struct {
	Name string
}

func (s FillMissingCodes) Kind() string       { return KindFillMissingCodes }
func (s StandardizeColumnNames) Kind() string { return KindStandardizeColumnNames }
func (s ConvertDtype) Kind() string           { return KindConvertDtype }
func (s HandleSpecialValues) Kind() string    { return KindHandleSpecialValues }
func (s RemoveDuplicates) Kind() string       { return KindRemoveDuplicates }
func (s StandardizeDates) Kind() string       { return KindStandardizeDates }
func (s ValidateYears) Kind() string          { return KindValidateYears }
func (s AddMetadataColumns) Kind() string     { return KindAddMetadataColumns }
func (s CalculateTotals) Kind() string        { return KindCalculateTotals }
func (s CalculatePercentages) Kind() string   { return KindCalculatePercentages }
func (s CalculateDifference) Kind() string    { return KindCalculateDifference }
func (s NormalizeEntities) Kind() string      { return KindNormalizeEntities }
func (s Unknown) Kind() string                { return s.Name }

func (FillMissingCodes) step()       {}
func (StandardizeColumnNames) step() {}
func (ConvertDtype) step()           {}
func (HandleSpecialValues) step()    {}
func (RemoveDuplicates) step()       {}
func (StandardizeDates) step()       {}
func (ValidateYears) step()          {}
func (AddMetadataColumns) step()     {}
func (CalculateTotals) step()        {}
func (CalculatePercentages) step()   {}
func (CalculateDifference) step()    {}
func (NormalizeEntities) step()      {}
func (Unknown) step()                {}

// actionText is the constant human-readable description written into the
// plan document for each kind.
var actionText = map[string]string{
	KindFillMissingCodes:       "Replace empty strings with null",
	KindStandardizeColumnNames: "Convert to lowercase with underscores",
	KindConvertDtype:           "Convert string values to numeric, unparsable become null",
	KindHandleSpecialValues:    "Replace sentinel strings with null",
	KindRemoveDuplicates:       "Keep first occurrence",
	KindStandardizeDates:       "Parse dates and create date column",
	KindValidateYears:          "Ensure years are within the valid range",
	KindAddMetadataColumns:     "Add provenance and quality metadata",
	KindCalculateTotals:        "Sum generation sources into a total column",
	KindCalculatePercentages:   "Calculate category shares of total generation",
	KindCalculateDifference:    "Calculate net trade from production and consumption",
	KindNormalizeEntities:      "Classify entities as country or aggregate",
}

// envelope is the flat JSON shape shared by all step kinds. Unused keys are
// omitted per kind.
type envelope struct {
	Step           string     `json:"step"`
	Column         string     `json:"column,omitempty"`
	Action         string     `json:"action,omitempty"`
	AffectedRows   int        `json:"affected_rows,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	Columns        []string   `json:"columns,omitempty"`
	From           string     `json:"from,omitempty"`
	To             string     `json:"to,omitempty"`
	SpecialValues  []string   `json:"special_values,omitempty"`
	TargetFormat   string     `json:"target_format,omitempty"`
	CurrentRange   string     `json:"current_range,omitempty"`
	MinYear        int        `json:"min_year,omitempty"`
	MaxYear        int        `json:"max_year,omitempty"`
	NewColumn      string     `json:"new_column,omitempty"`
	NewColumns     []string   `json:"new_columns,omitempty"`
	MetadataFields []string   `json:"metadata_fields,omitempty"`
	TotalColumn    string     `json:"total_column,omitempty"`
	Suffix         string     `json:"suffix,omitempty"`
	Exclude        []string   `json:"exclude,omitempty"`
	Categories     []Category `json:"categories,omitempty"`
	Production     string     `json:"production_column,omitempty"`
	Consumption    string     `json:"consumption_column,omitempty"`
	FlagColumn     string     `json:"flag_column,omitempty"`
	Aggregates     []string   `json:"aggregates,omitempty"`
}

func toEnvelope(s Step) envelope {
	env := envelope{Step: s.Kind(), Action: actionText[s.Kind()]}
	switch st := s.(type) {
	case FillMissingCodes:
		env.Column = st.Column
		env.AffectedRows = st.AffectedRows
		env.Reason = st.Reason
	case StandardizeColumnNames:
		env.Columns = st.Columns
	case ConvertDtype:
		env.Column = st.Column
		env.From = st.From
		env.To = st.To
	case HandleSpecialValues:
		env.Column = st.Column
		env.SpecialValues = st.Values
	case RemoveDuplicates:
		env.AffectedRows = st.AffectedRows
	case StandardizeDates:
		env.Column = st.Column
		env.TargetFormat = st.TargetFormat
	case ValidateYears:
		env.Column = st.Column
		env.MinYear = st.MinYear
		env.MaxYear = st.MaxYear
		env.CurrentRange = st.CurrentRange
	case AddMetadataColumns:
		env.MetadataFields = st.Fields
	case CalculateTotals:
		env.NewColumn = st.NewColumn
		env.Suffix = st.Suffix
		env.Exclude = st.Exclude
	case CalculatePercentages:
		env.TotalColumn = st.TotalColumn
		env.Suffix = st.Suffix
		env.Categories = st.Categories
		env.NewColumns = st.NewColumns
	case CalculateDifference:
		env.NewColumn = st.NewColumn
		env.Production = st.Production
		env.Consumption = st.Consumption
		env.FlagColumn = st.FlagColumn
	case NormalizeEntities:
		env.NewColumn = st.NewColumn
		env.Aggregates = st.Aggregates
	}
	return env
}

func fromEnvelope(env envelope) Step {
	switch env.Step {
	case KindFillMissingCodes:
		return FillMissingCodes{Column: env.Column, AffectedRows: env.AffectedRows, Reason: env.Reason}
	case KindStandardizeColumnNames:
		return StandardizeColumnNames{Columns: env.Columns}
	case KindConvertDtype:
		return ConvertDtype{Column: env.Column, From: env.From, To: env.To}
	case KindHandleSpecialValues:
		return HandleSpecialValues{Column: env.Column, Values: env.SpecialValues}
	case KindRemoveDuplicates:
		return RemoveDuplicates{AffectedRows: env.AffectedRows}
	case KindStandardizeDates:
		return StandardizeDates{Column: env.Column, TargetFormat: env.TargetFormat}
	case KindValidateYears:
		return ValidateYears{Column: env.Column, MinYear: env.MinYear, MaxYear: env.MaxYear, CurrentRange: env.CurrentRange}
	case KindAddMetadataColumns:
		return AddMetadataColumns{Fields: env.MetadataFields}
	case KindCalculateTotals:
		return CalculateTotals{NewColumn: env.NewColumn, Suffix: env.Suffix, Exclude: env.Exclude}
	case KindCalculatePercentages:
		return CalculatePercentages{TotalColumn: env.TotalColumn, Suffix: env.Suffix, Categories: env.Categories, NewColumns: env.NewColumns}
	case KindCalculateDifference:
		return CalculateDifference{NewColumn: env.NewColumn, Production: env.Production, Consumption: env.Consumption, FlagColumn: env.FlagColumn}
	case KindNormalizeEntities:
		return NormalizeEntities{NewColumn: env.NewColumn, Aggregates: env.Aggregates}
	default:
		return Unknown{Name: env.Step}
	}
}

// StepList is an ordered step sequence with the flat-envelope JSON form.
type StepList []Step

// MarshalJSON writes each step as its envelope with a constant action text.
func (l StepList) MarshalJSON() ([]byte, error) {
	envs := make([]envelope, len(l))
	for i, s := range l {
		envs[i] = toEnvelope(s)
	}
	return json.Marshal(envs)
}

// UnmarshalJSON decodes envelopes back into variants; unrecognized kinds
// become Unknown rather than failing the whole document.
func (l *StepList) UnmarshalJSON(b []byte) error {
	var envs []envelope
	if err := json.Unmarshal(b, &envs); err != nil {
		return fmt.Errorf("plan: decode steps: %w", err)
	}
	out := make(StepList, len(envs))
	for i, env := range envs {
		out[i] = fromEnvelope(env)
	}
	*l = out
	return nil
}
