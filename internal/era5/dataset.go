package era5

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/ctessum/sparse"
)

var (
	// ErrMissingVariable is returned when a required variable is absent.
	ErrMissingVariable = errors.New("missing variable")
	// ErrDegenerateAxis is returned for an empty axis or a pressure level axis
	// that cannot be differenced.
	ErrDegenerateAxis = errors.New("degenerate axis")
	// ErrShapeMismatch is returned when a variable's dimensions or length do
	// not match the coordinates.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrUnsupportedType is returned for values the classic format cannot hold.
	ErrUnsupportedType = errors.New("unsupported type")
)

// Names of the variables and coordinates used by the CDS.
const (
	SpecificHumidity = "q"
	EastwardWind     = "u"
	NorthwardWind    = "v"
	Latitude         = "latitude"
	Longitude        = "longitude"

	// Time is the canonical name of the time coordinate in reduced datasets.
	Time = "time"
)

var (
	// The current CDS layout comes first, the legacy one second.
	levelNames = []string{"pressure_level", "level"}
	timeNames  = []string{"valid_time", "time"}

	// Ensemble member and experiment version metadata.
	metadataNames = []string{"number", "expver"}
)

// Dataset is an ERA5 pressure-level file holding specific humidity and both
// horizontal wind components.
type Dataset struct {
	nc api.Group

	// Levels are the pressure levels in hPa, in file order.
	Levels     []float64
	Latitudes  []float64
	Longitudes []float64

	levelName string
	timeName  string
	nt        int

	q, u, v *field

	// Extras are the variables not consumed by the integration.
	Extras     []Variable
	Attributes []Attribute
}

// Open opens an ERA5 file and validates that it holds everything needed to
// integrate moisture transport over pressure levels.
func Open(filePath string) (*Dataset, error) {
	nc, err := netcdf.Open(filePath)
	if err != nil {
		return nil, err
	}
	d, err := newDataset(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return d, nil
}

func newDataset(nc api.Group) (*Dataset, error) {
	d := &Dataset{nc: nc}
	vars := nc.ListVariables()
	var err error

	d.levelName, err = firstPresent(vars, levelNames)
	if err != nil {
		return nil, err
	}
	d.timeName, err = firstPresent(vars, timeNames)
	if err != nil {
		return nil, err
	}

	d.Levels, err = coordValues(nc, d.levelName)
	if err != nil {
		return nil, err
	}
	if len(d.Levels) < 2 {
		return nil, fmt.Errorf("%w: %s has %d points, need at least 2", ErrDegenerateAxis, d.levelName, len(d.Levels))
	}
	if !monotonic(d.Levels) {
		return nil, fmt.Errorf("%w: %s is not strictly monotonic", ErrDegenerateAxis, d.levelName)
	}
	d.Latitudes, err = coordValues(nc, Latitude)
	if err != nil {
		return nil, err
	}
	d.Longitudes, err = coordValues(nc, Longitude)
	if err != nil {
		return nil, err
	}
	times, err := coordValues(nc, d.timeName)
	if err != nil {
		return nil, err
	}
	d.nt = len(times)
	for _, axis := range []struct {
		name string
		n    int
	}{{Latitude, len(d.Latitudes)}, {Longitude, len(d.Longitudes)}, {d.timeName, d.nt}} {
		if axis.n == 0 {
			return nil, fmt.Errorf("%w: %s is empty", ErrDegenerateAxis, axis.name)
		}
	}

	d.q, err = d.newField(SpecificHumidity)
	if err != nil {
		return nil, err
	}
	d.u, err = d.newField(EastwardWind)
	if err != nil {
		return nil, err
	}
	d.v, err = d.newField(NorthwardWind)
	if err != nil {
		return nil, err
	}

	for _, name := range vars {
		if !d.carried(name) {
			continue
		}
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(vg.Dimensions(), d.consumedDim) {
			continue
		}
		vals, err := vg.Values()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		flat, shape, err := flatten(vals)
		if errors.Is(err, ErrUnsupportedType) {
			// Strings have no classic representation.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		d.Extras = append(d.Extras, Variable{
			Name:       name,
			Dimensions: vg.Dimensions(),
			Shape:      shape,
			Attributes: attributes(vg.Attributes()),
			Values:     flat,
		})
	}
	d.Attributes = attributes(nc.Attributes())
	return d, nil
}

// carried reports whether the variable name survives the reduction.
func (d *Dataset) carried(name string) bool {
	switch name {
	case SpecificHumidity, EastwardWind, NorthwardWind, d.levelName:
		return false
	}
	return !slices.Contains(metadataNames, name)
}

func (d *Dataset) consumedDim(dim string) bool {
	return dim == d.levelName || slices.Contains(metadataNames, dim)
}

func firstPresent(vars, names []string) (string, error) {
	for _, name := range names {
		if slices.Contains(vars, name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: none of %v", ErrMissingVariable, names)
}

func coordValues(nc api.Group, name string) ([]float64, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingVariable, name, err)
	}
	v, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	flat, shape, err := flatten(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(shape) > 1 {
		return nil, fmt.Errorf("%w: coordinate %s has %d dimensions", ErrShapeMismatch, name, len(shape))
	}
	return toFloat64s(flat)
}

func monotonic(x []float64) bool {
	increasing := x[1] > x[0]
	for i := 1; i < len(x); i++ {
		if increasing && !(x[i] > x[i-1]) || !increasing && !(x[i] < x[i-1]) {
			return false
		}
	}
	return true
}

func attributes(am api.AttributeMap) []Attribute {
	if am == nil {
		return nil
	}
	var attrs []Attribute
	for _, key := range am.Keys() {
		raw, ok := am.Get(key)
		if !ok {
			continue
		}
		if val, ok := attributeValue(raw); ok {
			attrs = append(attrs, Attribute{Name: key, Value: val})
		}
	}
	return attrs
}

// Close closes the underlying file.
func (d *Dataset) Close() {
	d.nc.Close()
}

// NumTimes returns the length of the time axis.
func (d *Dataset) NumTimes() int {
	return d.nt
}

// Summary returns the summary information about the dataset suitable for
// logging.
func (d *Dataset) Summary() []any {
	return []any{
		"levelDim", d.levelName,
		"timeDim", d.timeName,
		"levelCnt", len(d.Levels),
		"tsCnt", d.nt,
		"laCnt", len(d.Latitudes),
		"loCnt", len(d.Longitudes),
		"extras", len(d.Extras),
	}
}

// Fields reads the (level, latitude, longitude) cubes of specific humidity
// and both wind components at time step t.
func (d *Dataset) Fields(t int) (q, u, v *sparse.DenseArray, err error) {
	shape := []int{len(d.Levels), len(d.Latitudes), len(d.Longitudes)}
	if q, err = d.q.cube(t, shape); err != nil {
		return nil, nil, nil, err
	}
	if u, err = d.u.cube(t, shape); err != nil {
		return nil, nil, nil, err
	}
	if v, err = d.v.cube(t, shape); err != nil {
		return nil, nil, nil, err
	}
	return q, u, v, nil
}

// Reduce builds the contents of the reduced dataset: the carried variables,
// with the time coordinate renamed to Time, followed by the derived field.
// data must have the shape (time, latitude, longitude). The derived field is
// stored as float32 when q, u and v are all unpacked float32.
func (d *Dataset) Reduce(name string, data *sparse.DenseArray, attrs []Attribute) *Contents {
	rename := func(dims []string) []string {
		out := make([]string, len(dims))
		for i, dim := range dims {
			if dim == d.timeName {
				dim = Time
			}
			out[i] = dim
		}
		return out
	}
	c := &Contents{Attributes: d.Attributes}
	for _, v := range d.Extras {
		if v.Name == d.timeName {
			v.Name = Time
		}
		v.Dimensions = rename(v.Dimensions)
		c.Variables = append(c.Variables, v)
	}
	var values any = data.Elements
	if d.q.singlePrecision() && d.u.singlePrecision() && d.v.singlePrecision() {
		single := make([]float32, len(data.Elements))
		for i, x := range data.Elements {
			single[i] = float32(x)
		}
		values = single
	}
	c.Variables = append(c.Variables, Variable{
		Name:       name,
		Dimensions: []string{Time, Latitude, Longitude},
		Shape:      slices.Clone(data.Shape),
		Attributes: attrs,
		Values:     values,
	})
	return c
}

// field reads one of the integrated variables a time step at a time.
type field struct {
	name   string
	vg     api.VarGetter
	scale  float64
	offset float64
	fills  []float64
	// squeeze holds the positions of length-1 ensemble or version axes.
	squeeze []int
}

func (d *Dataset) newField(name string) (*field, error) {
	vg, err := d.nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingVariable, name, err)
	}
	want := []string{d.timeName, d.levelName, Latitude, Longitude}
	dims := vg.Dimensions()
	f := &field{name: name, vg: vg, scale: 1}
	var kept []string
	for i, dim := range dims {
		if i == 0 || !slices.Contains(metadataNames, dim) {
			kept = append(kept, dim)
			continue
		}
		if n, ok := d.axisLen(dim); ok && n != 1 {
			return nil, fmt.Errorf("%w: %s has %d entries along %s, want 1", ErrShapeMismatch, name, n, dim)
		}
		f.squeeze = append(f.squeeze, i)
	}
	if !slices.Equal(kept, want) {
		return nil, fmt.Errorf("%w: %s has dimensions %v, want %v", ErrShapeMismatch, name, dims, want)
	}
	// Len is the length of the outermost dimension.
	if vg.Len() != int64(d.nt) {
		return nil, fmt.Errorf("%w: %s has %d time steps, want %d", ErrShapeMismatch, name, vg.Len(), d.nt)
	}
	am := vg.Attributes()
	if s, ok := attrFloat(am, "scale_factor"); ok {
		f.scale = s
	}
	if o, ok := attrFloat(am, "add_offset"); ok {
		f.offset = o
	}
	for _, key := range []string{"_FillValue", "missing_value"} {
		if fv, ok := attrFloat(am, key); ok {
			f.fills = append(f.fills, fv)
		}
	}
	return f, nil
}

// axisLen returns the length of the coordinate variable named dim, if the file
// has one.
func (d *Dataset) axisLen(dim string) (int64, bool) {
	vg, err := d.nc.GetVarGetter(dim)
	if err != nil {
		return 0, false
	}
	return vg.Len(), true
}

// singlePrecision reports whether the field is stored unpacked as float32.
func (f *field) singlePrecision() bool {
	return f.vg.GoType() == "float32" && f.scale == 1 && f.offset == 0
}

func attrFloat(am api.AttributeMap, key string) (float64, bool) {
	if am == nil {
		return 0, false
	}
	raw, ok := am.Get(key)
	if !ok {
		return 0, false
	}
	flat, _, err := flatten(raw)
	if err != nil {
		return 0, false
	}
	vals, err := toFloat64s(flat)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func (f *field) decode(raw float64) float64 {
	if slices.Contains(f.fills, raw) {
		return math.NaN()
	}
	return raw*f.scale + f.offset
}

func (f *field) cube(t int, shape []int) (*sparse.DenseArray, error) {
	begin := int64(t)
	limit := begin + 1
	v, err := f.vg.GetSlice(begin, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}
	c := sparse.ZerosDense(shape...)
	if len(f.squeeze) > 0 {
		err = f.decodeSqueezed(c.Elements, v, shape)
	} else {
		switch vals := v.(type) {
		case [][][][]int16:
			err = decodeCube(c.Elements, vals, f)
		case [][][][]int32:
			err = decodeCube(c.Elements, vals, f)
		case [][][][]float32:
			err = decodeCube(c.Elements, vals, f)
		case [][][][]float64:
			err = decodeCube(c.Elements, vals, f)
		default:
			err = fmt.Errorf("%w: %T", ErrUnsupportedType, v)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}
	return c, nil
}

func decodeCube[T int16 | int32 | float32 | float64](dst []float64, src [][][][]T, f *field) error {
	if len(src) != 1 {
		return fmt.Errorf("%w: got %d time steps", ErrShapeMismatch, len(src))
	}
	i := 0
	for _, level := range src[0] {
		for _, row := range level {
			if i+len(row) > len(dst) {
				return ErrShapeMismatch
			}
			for _, x := range row {
				dst[i] = f.decode(float64(x))
				i++
			}
		}
	}
	if i != len(dst) {
		return ErrShapeMismatch
	}
	return nil
}

// decodeSqueezed decodes a time step of a field that also has length-1
// ensemble or version axes.
func (f *field) decodeSqueezed(dst []float64, v any, shape []int) error {
	flat, got, err := flatten(v)
	if err != nil {
		return err
	}
	want := []int{1}
	want = append(want, shape...)
	for _, i := range f.squeeze {
		want = slices.Insert(want, i, 1)
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("%w: time step has shape %v, want %v", ErrShapeMismatch, got, want)
	}
	vals, err := toFloat64s(flat)
	if err != nil {
		return err
	}
	for i, x := range vals {
		dst[i] = f.decode(x)
	}
	return nil
}
