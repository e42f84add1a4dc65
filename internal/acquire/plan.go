package acquire

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/rtm0/ivt/internal/cds"
)

// Plan describes what to download: one request per year and part.
type Plan struct {
	Years        []int      `yaml:"years"`
	Dataset      string     `yaml:"dataset"`
	ProductTypes []string   `yaml:"product_type"`
	Variables    []string   `yaml:"variables"`
	Levels       []string   `yaml:"pressure_levels"`
	Parts        [][]string `yaml:"parts"`
	Days         []string   `yaml:"days"`
	Times        []string   `yaml:"times"`
}

// DefaultPlan returns the ERA5 pressure-level request used for IVT: humidity
// and horizontal wind from 350 to 1000 hPa, three times a day on the 1st and
// 15th of every month of 2024, one file per quarter.
func DefaultPlan() Plan {
	return Plan{
		Years:        []int{2024},
		Dataset:      "reanalysis-era5-pressure-levels",
		ProductTypes: []string{"reanalysis"},
		Variables:    []string{"specific_humidity", "u_component_of_wind", "v_component_of_wind"},
		Levels: []string{
			"350", "400", "450", "500", "550", "600", "650",
			"700", "750", "800", "850", "900", "950", "1000",
		},
		Parts: [][]string{
			{"01", "02", "03"},
			{"04", "05", "06"},
			{"07", "08", "09"},
			{"10", "11", "12"},
		},
		Days:  []string{"01", "15"},
		Times: []string{"00:00", "08:00", "16:00"},
	}
}

// LoadPlan reads a YAML plan from path. Keys absent from the file keep their
// DefaultPlan value.
func LoadPlan(path string) (Plan, error) {
	p := DefaultPlan()
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Validate reports the first empty field of p.
func (p Plan) Validate() error {
	switch {
	case len(p.Years) == 0:
		return errors.New("no years")
	case p.Dataset == "":
		return errors.New("no dataset")
	case len(p.Variables) == 0:
		return errors.New("no variables")
	case len(p.Levels) == 0:
		return errors.New("no pressure levels")
	case len(p.Days) == 0:
		return errors.New("no days")
	case len(p.Times) == 0:
		return errors.New("no times")
	case len(p.Parts) == 0:
		return errors.New("no parts")
	}
	for i, months := range p.Parts {
		if len(months) == 0 {
			return fmt.Errorf("part %d has no months", i+1)
		}
	}
	return nil
}

// Partition is the slice of time fetched by one request.
type Partition struct {
	Year int
	// Part is 1-based.
	Part   int
	Months []string
}

// FileName returns the name the partition is saved under, e.g. 2024_part1.nc.
func (p Partition) FileName() string {
	return fmt.Sprintf("%d_part%d.nc", p.Year, p.Part)
}

func (p Partition) String() string {
	return p.FileName()
}

// Partitions lists the partitions of p, year by year.
func (p Plan) Partitions() []Partition {
	parts := make([]Partition, 0, len(p.Years)*len(p.Parts))
	for _, y := range p.Years {
		for i, months := range p.Parts {
			parts = append(parts, Partition{Year: y, Part: i + 1, Months: months})
		}
	}
	return parts
}

// Request returns the archive request for part.
func (p Plan) Request(part Partition) cds.Request {
	return cds.Request{
		"product_type":    p.ProductTypes,
		"variable":        p.Variables,
		"pressure_level":  p.Levels,
		"year":            []string{strconv.Itoa(part.Year)},
		"month":           part.Months,
		"day":             p.Days,
		"time":            p.Times,
		"data_format":     "netcdf",
		"download_format": "unarchived",
	}
}
