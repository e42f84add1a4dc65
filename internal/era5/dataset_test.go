package era5_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/ivt/internal/era5"
	"github.com/rtm0/ivt/internal/era5/era5test"
)

func writeFixture(t *testing.T, f era5test.Fixture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2024_part1.nc")
	era5test.Write(t, path, f)
	return path
}

func variableNames(vars []era5.Variable) []string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return names
}

func TestOpen_CurrentLayout(t *testing.T) {
	d, err := era5.Open(writeFixture(t, era5test.Fixture{}))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, []float64{1000, 900}, d.Levels)
	assert.Equal(t, []float64{40, 39.75, 39.5}, d.Latitudes)
	assert.Equal(t, []float64{-120, -119.75}, d.Longitudes)
	assert.Equal(t, 2, d.NumTimes())
	assert.Equal(t, []string{"valid_time", era5.Latitude, era5.Longitude, "lsm"}, variableNames(d.Extras))
	assert.Contains(t, d.Summary(), "pressure_level")
}

func TestOpen_LegacyLayout(t *testing.T) {
	d, err := era5.Open(writeFixture(t, era5test.Fixture{LevelName: "level", TimeName: "time"}))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, []float64{1000, 900}, d.Levels)
	assert.Equal(t, []string{era5.Time, era5.Latitude, era5.Longitude, "lsm"}, variableNames(d.Extras))
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fixture era5test.Fixture
		want    error
	}{
		{"missing humidity", era5test.Fixture{Omit: []string{era5.SpecificHumidity}}, era5.ErrMissingVariable},
		{"missing northward wind", era5test.Fixture{Omit: []string{era5.NorthwardWind}}, era5.ErrMissingVariable},
		{"missing level coordinate", era5test.Fixture{Omit: []string{"pressure_level"}}, era5.ErrMissingVariable},
		{"missing latitude", era5test.Fixture{Omit: []string{era5.Latitude}}, era5.ErrMissingVariable},
		{"single level", era5test.Fixture{Levels: []float64{1000}}, era5.ErrDegenerateAxis},
		{"repeated level", era5test.Fixture{Levels: []float64{1000, 1000, 900}}, era5.ErrDegenerateAxis},
		{"non-monotonic levels", era5test.Fixture{Levels: []float64{900, 1000, 950}}, era5.ErrDegenerateAxis},
		{"several ensemble members", era5test.Fixture{Members: 2}, era5.ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := era5.Open(writeFixture(t, tt.fixture))
			require.Error(t, err)
			assert.Nil(t, d)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpen_NotNetCDF(t *testing.T) {
	_, err := era5.Open(filepath.Join(t.TempDir(), "missing.nc"))
	assert.Error(t, err)
}

func TestDataset_Fields(t *testing.T) {
	f := era5test.Fixture{
		Value: func(name string, t, k, j, i int) float32 {
			if name != era5.SpecificHumidity {
				return 1
			}
			return float32(1000*t + 100*k + 10*j + i)
		},
	}
	d, err := era5.Open(writeFixture(t, f))
	require.NoError(t, err)
	defer d.Close()

	q, u, v, err := d.Fields(1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2}, q.Shape)
	assert.Equal(t, 1121.0, q.Get(1, 2, 1))
	assert.Equal(t, 1000.0, q.Get(0, 0, 0))
	assert.Equal(t, 1.0, u.Get(1, 1, 1))
	assert.Equal(t, 1.0, v.Get(0, 2, 0))
}

func TestDataset_Fields_Packed(t *testing.T) {
	f := era5test.Fixture{
		Packed: true,
		Value: func(name string, _, k, j, i int) float32 {
			if name == era5.SpecificHumidity && k == 0 && j == 0 && i == 0 {
				return float32(math.NaN())
			}
			return 2.5
		},
	}
	d, err := era5.Open(writeFixture(t, f))
	require.NoError(t, err)
	defer d.Close()

	q, u, _, err := d.Fields(0)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(q.Get(0, 0, 0)))
	assert.InDelta(t, 2.5, q.Get(1, 0, 0), 1e-9)
	assert.InDelta(t, 2.5, u.Get(0, 0, 0), 1e-9)
}

func TestDataset_Reduce(t *testing.T) {
	d, err := era5.Open(writeFixture(t, era5test.Fixture{}))
	require.NoError(t, err)
	defer d.Close()

	data := sparse.ZerosDense(d.NumTimes(), len(d.Latitudes), len(d.Longitudes))
	c := d.Reduce("ivt", data, []era5.Attribute{{Name: "units", Value: "kg m-1 s-1"}})

	assert.Equal(t, []string{era5.Time, era5.Latitude, era5.Longitude, "lsm", "ivt"}, variableNames(c.Variables))
	for _, v := range c.Variables {
		assert.NotContains(t, v.Dimensions, "valid_time", v.Name)
		assert.NotContains(t, v.Dimensions, "pressure_level", v.Name)
	}
	out := c.Variables[len(c.Variables)-1]
	assert.Equal(t, []string{era5.Time, era5.Latitude, era5.Longitude}, out.Dimensions)
	assert.Equal(t, []int{2, 3, 2}, out.Shape)
	assert.NotEmpty(t, c.Attributes)

	path := filepath.Join(t.TempDir(), "out.nc")
	require.NoError(t, era5.Write(path, c))
}

func TestOpen_LargerGrid(t *testing.T) {
	f := era5test.Fixture{
		Levels:     []float64{1000, 925, 850, 700},
		Latitudes:  []float64{40, 39.75, 39.5, 39.25, 39},
		Longitudes: []float64{-120, -119.75, -119.5},
		Times:      []int32{1087128, 1087136, 1087144},
		Value: func(name string, t, k, j, i int) float32 {
			return float32(1000*t + 100*k + 10*j + i)
		},
	}
	d, err := era5.Open(writeFixture(t, f))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 3, d.NumTimes())
	q, _, _, err := d.Fields(2)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 3}, q.Shape)
	assert.Equal(t, 2342.0, q.Get(3, 4, 2))
}

func TestOpen_SingleEnsembleMember(t *testing.T) {
	f := era5test.Fixture{
		Members: 1,
		Value: func(name string, t, k, j, i int) float32 {
			return float32(1000*t + 100*k + 10*j + i)
		},
	}
	d, err := era5.Open(writeFixture(t, f))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, []string{"valid_time", era5.Latitude, era5.Longitude, "lsm"}, variableNames(d.Extras))
	q, u, _, err := d.Fields(1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2}, q.Shape)
	assert.Equal(t, 1121.0, q.Get(1, 2, 1))
	assert.Equal(t, 1000.0, u.Get(0, 0, 0))
}

func TestDataset_Reduce_ScalarExtra(t *testing.T) {
	f := era5test.Fixture{
		Extras: []era5.Variable{{
			Name:       "reference_pressure",
			Shape:      []int{},
			Values:     []float64{101325},
			Attributes: []era5.Attribute{{Name: "units", Value: "Pa"}},
		}},
	}
	d, err := era5.Open(writeFixture(t, f))
	require.NoError(t, err)
	defer d.Close()

	data := sparse.ZerosDense(d.NumTimes(), len(d.Latitudes), len(d.Longitudes))
	c := d.Reduce("ivt", data, nil)
	assert.Contains(t, variableNames(c.Variables), "reference_pressure")

	path := filepath.Join(t.TempDir(), "out.nc")
	require.NoError(t, era5.Write(path, c))

	nc, err := netcdf.Open(path)
	require.NoError(t, err)
	defer nc.Close()
	vg, err := nc.GetVarGetter("reference_pressure")
	require.NoError(t, err)
	assert.Empty(t, vg.Dimensions())
	val, err := vg.Values()
	require.NoError(t, err)
	assert.Equal(t, 101325.0, val)
}

func TestDataset_Reduce_Precision(t *testing.T) {
	tests := []struct {
		name    string
		fixture era5test.Fixture
		want    any
	}{
		{"float32 fields", era5test.Fixture{}, []float32{}},
		{"packed fields", era5test.Fixture{Packed: true}, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := era5.Open(writeFixture(t, tt.fixture))
			require.NoError(t, err)
			defer d.Close()

			data := sparse.ZerosDense(d.NumTimes(), len(d.Latitudes), len(d.Longitudes))
			c := d.Reduce("ivt", data, nil)
			out := c.Variables[len(c.Variables)-1]
			assert.IsType(t, tt.want, out.Values)
		})
	}
}
