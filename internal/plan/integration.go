package plan

import "dq/internal/dataset"

// Join proposes one cross-dataset join.
type Join struct {
	Type     string   `json:"join_type"`
	Datasets []string `json:"datasets"`
	On       []string `json:"on"`
	Result   string   `json:"result_name"`
}

// IntegrationPlan is the cross-dataset section of the plan document. Joins
// and recommendations are advisory; nothing executes them.
type IntegrationPlan struct {
	CommonDimensions map[string][]string `json:"common_dimensions"`
	Joins            []Join              `json:"joins"`
	Recommendations  []string            `json:"recommendations"`
}

// commonDims is the shared-key set of every country/year dataset. The raw
// header spellings are listed here; join keys below use the standardized
// spellings because joins happen after cleaning.
var commonDims = []string{"Entity", "Year", "Code"}

var recommendations = []string{
	"Create a master dimension table for countries from distinct entity/code pairs",
	"Create a time dimension table covering all observed years",
	"Model metric tables as a star schema keyed by country and year",
	"Keep the daily NYMEX price series separate or aggregate it to yearly granularity before joining",
}

// Integration inspects all processed datasets together and proposes shared
// dimensions and joins. A dataset qualifies when it carries both an entity
// and a year column; an inner join across the configured energy datasets is
// proposed when at least two of them are present.
func (g *Generator) Integration(tables map[string]*dataset.Table) IntegrationPlan {
	p := IntegrationPlan{
		CommonDimensions: make(map[string][]string),
		Joins:            []Join{},
		Recommendations:  recommendations,
	}
	for name, t := range tables {
		if columnFold(t, "entity") != "" && columnFold(t, "year") != "" {
			p.CommonDimensions[name] = commonDims
		}
	}

	var energy []string
	for _, name := range g.Config.EnergyDatasets {
		if _, ok := tables[name]; ok {
			energy = append(energy, name)
		}
	}
	if len(energy) >= 2 {
		p.Joins = append(p.Joins, Join{
			Type:     "inner_join",
			Datasets: energy,
			On:       []string{"entity", "code", "year"},
			Result:   "integrated_energy_data",
		})
	}
	return p
}
