// Package era5test writes small synthetic ERA5 pressure-level files for tests.
package era5test

import (
	"math"
	"slices"
	"testing"

	"github.com/rtm0/ivt/internal/era5"
)

// Fixture describes a synthetic ERA5 file. Zero values are replaced with the
// defaults of the current CDS layout.
type Fixture struct {
	LevelName  string
	TimeName   string
	Levels     []float64
	Latitudes  []float64
	Longitudes []float64
	Times      []int32

	// Value returns the value of field q, u or v at the given indices.
	Value func(name string, t, k, j, i int) float32

	// Packed stores the fields as int16 with the given scale factor and a
	// fill value of FillValue.
	Packed    bool
	Scale     float64
	FillValue int16

	// Members, when set, gives q, u and v a number dimension of this length
	// after time, as in ensemble requests.
	Members int

	// Extras are written to the file as given.
	Extras []era5.Variable

	// Omit lists variables to leave out of the file.
	Omit []string
}

// Uniform returns a Value func giving every cell of q, u and v the same value.
func Uniform(q, u, v float32) func(string, int, int, int, int) float32 {
	return func(name string, _, _, _, _ int) float32 {
		switch name {
		case era5.SpecificHumidity:
			return q
		case era5.EastwardWind:
			return u
		}
		return v
	}
}

func (f *Fixture) defaults() {
	if f.LevelName == "" {
		f.LevelName = "pressure_level"
	}
	if f.TimeName == "" {
		f.TimeName = "valid_time"
	}
	if f.Levels == nil {
		f.Levels = []float64{1000, 900}
	}
	if f.Latitudes == nil {
		f.Latitudes = []float64{40, 39.75, 39.5}
	}
	if f.Longitudes == nil {
		f.Longitudes = []float64{-120, -119.75}
	}
	if f.Times == nil {
		f.Times = []int32{1087128, 1087136}
	}
	if f.Value == nil {
		f.Value = Uniform(0.01, 10, 5)
	}
	if f.Scale == 0 {
		f.Scale = 0.001
	}
	if f.FillValue == 0 {
		f.FillValue = -32767
	}
}

// Contents returns the variables and attributes of the fixture.
func (f Fixture) Contents() *era5.Contents {
	f.defaults()
	nt, nl, ny, nx := len(f.Times), len(f.Levels), len(f.Latitudes), len(f.Longitudes)
	c := &era5.Contents{
		Attributes: []era5.Attribute{{Name: "Conventions", Value: "CF-1.7"}},
	}
	add := func(v era5.Variable) {
		if !slices.Contains(f.Omit, v.Name) {
			c.Variables = append(c.Variables, v)
		}
	}
	add(era5.Variable{
		Name: f.TimeName, Dimensions: []string{f.TimeName}, Shape: []int{nt}, Values: f.Times,
		Attributes: []era5.Attribute{{Name: "units", Value: "hours since 1900-01-01 00:00:00.0"}},
	})
	add(era5.Variable{
		Name: f.LevelName, Dimensions: []string{f.LevelName}, Shape: []int{nl}, Values: f.Levels,
		Attributes: []era5.Attribute{{Name: "units", Value: "hPa"}},
	})
	add(era5.Variable{
		Name: era5.Latitude, Dimensions: []string{era5.Latitude}, Shape: []int{ny}, Values: f.Latitudes,
		Attributes: []era5.Attribute{{Name: "units", Value: "degrees_north"}},
	})
	add(era5.Variable{
		Name: era5.Longitude, Dimensions: []string{era5.Longitude}, Shape: []int{nx}, Values: f.Longitudes,
		Attributes: []era5.Attribute{{Name: "units", Value: "degrees_east"}},
	})
	if f.Members > 0 {
		members := make([]int32, f.Members)
		for m := range members {
			members[m] = int32(m)
		}
		add(era5.Variable{Name: "number", Dimensions: []string{"number"}, Shape: []int{f.Members}, Values: members})
	} else {
		add(era5.Variable{Name: "number", Shape: []int{}, Values: []int32{0}})
	}
	add(era5.Variable{Name: "expver", Dimensions: []string{f.TimeName}, Shape: []int{nt}, Values: make([]int32, nt)})
	lsm := make([]float32, ny*nx)
	for i := range lsm {
		lsm[i] = float32(i % 2)
	}
	add(era5.Variable{
		Name: "lsm", Dimensions: []string{era5.Latitude, era5.Longitude}, Shape: []int{ny, nx}, Values: lsm,
		Attributes: []era5.Attribute{{Name: "long_name", Value: "Land-sea mask"}},
	})

	for _, v := range f.Extras {
		add(v)
	}

	dims := []string{f.TimeName, f.LevelName, era5.Latitude, era5.Longitude}
	shape := []int{nt, nl, ny, nx}
	if f.Members > 0 {
		dims = slices.Insert(dims, 1, "number")
		shape = slices.Insert(shape, 1, f.Members)
	}
	n := nt * max(f.Members, 1) * nl * ny * nx
	for _, name := range []string{era5.SpecificHumidity, era5.EastwardWind, era5.NorthwardWind} {
		v := era5.Variable{Name: name, Dimensions: dims, Shape: shape}
		if f.Packed {
			vals := make([]int16, 0, n)
			f.each(func(t, k, j, i int) {
				x := f.Value(name, t, k, j, i)
				if math.IsNaN(float64(x)) {
					vals = append(vals, f.FillValue)
					return
				}
				vals = append(vals, int16(math.Round(float64(x)/f.Scale)))
			})
			v.Values = vals
			v.Attributes = []era5.Attribute{
				{Name: "scale_factor", Value: []float64{f.Scale}},
				{Name: "add_offset", Value: []float64{0}},
				{Name: "_FillValue", Value: []int16{f.FillValue}},
			}
		} else {
			vals := make([]float32, 0, n)
			f.each(func(t, k, j, i int) {
				vals = append(vals, f.Value(name, t, k, j, i))
			})
			v.Values = vals
		}
		add(v)
	}
	return c
}

// each visits every cell in file order. Ensemble members repeat the values of
// their time step.
func (f *Fixture) each(fn func(t, k, j, i int)) {
	for t := range f.Times {
		for m := 0; m < max(f.Members, 1); m++ {
			f.eachCell(t, fn)
		}
	}
}

func (f *Fixture) eachCell(t int, fn func(t, k, j, i int)) {
	for k := range f.Levels {
		for j := range f.Latitudes {
			for i := range f.Longitudes {
				fn(t, k, j, i)
			}
		}
	}
}

// Write writes the fixture to path.
func Write(tb testing.TB, path string, f Fixture) {
	tb.Helper()
	if err := era5.Write(path, f.Contents()); err != nil {
		tb.Fatalf("writing fixture %s: %v", path, err)
	}
}
