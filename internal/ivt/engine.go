package ivt

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ctessum/sparse"

	"github.com/rtm0/ivt/internal/era5"
)

const (
	// VariableName is the name of the derived field.
	VariableName = "ivt"
	// Suffix is inserted between the input base name and its extension to
	// name the output file.
	Suffix = "_IVT"
)

// IntegrationError reports a file that could not be integrated.
type IntegrationError struct {
	Path string
	Err  error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("integrating %s: %v", e.Path, e.Err)
}

func (e *IntegrationError) Unwrap() error {
	return e.Err
}

// Result is the outcome of integrating one file. Err is nil on success and
// an *IntegrationError otherwise.
type Result struct {
	Input  string
	Output string
	Err    error
}

// OutputPath returns the path of the reduced file for inputPath: the input's
// base name with Suffix inserted before the extension, under outDir.
func OutputPath(outDir, inputPath string) string {
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	return filepath.Join(outDir, strings.TrimSuffix(base, ext)+Suffix+ext)
}

// Engine turns ERA5 pressure-level files into IVT files.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a new engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Integrate reads inputPath, computes IVT and writes the reduced dataset to
// OutputPath(outDir, inputPath). It never panics: any failure, including a
// panic while processing the file, is returned in the Result.
func (e *Engine) Integrate(inputPath, outDir string) (res Result) {
	res.Input = inputPath
	defer func() {
		if r := recover(); r != nil {
			res.Output = ""
			res.Err = &IntegrationError{Path: inputPath, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	d, err := era5.Open(inputPath)
	if err != nil {
		res.Err = &IntegrationError{Path: inputPath, Err: err}
		return res
	}
	defer d.Close()
	e.logger.Debug("ERA5 summary", append([]any{"file", inputPath}, d.Summary()...)...)

	data, err := Compute(d)
	if err != nil {
		res.Err = &IntegrationError{Path: inputPath, Err: err}
		return res
	}
	out := OutputPath(outDir, inputPath)
	if err := era5.Write(out, d.Reduce(VariableName, data, attributes)); err != nil {
		res.Err = &IntegrationError{Path: inputPath, Err: err}
		return res
	}
	res.Output = out
	return res
}

var attributes = []era5.Attribute{
	{Name: "units", Value: "kg m-1 s-1"},
	{Name: "long_name", Value: "Integrated vapor transport"},
}

// Compute returns IVT on the (time, latitude, longitude) grid of d, one time
// step at a time.
func Compute(d *era5.Dataset) (*sparse.DenseArray, error) {
	dp := PressureThickness(d.Levels)
	nt, ny, nx := d.NumTimes(), len(d.Latitudes), len(d.Longitudes)
	out := sparse.ZerosDense(nt, ny, nx)
	plane := ny * nx
	for t := 0; t < nt; t++ {
		q, u, v, err := d.Fields(t)
		if err != nil {
			return nil, fmt.Errorf("time step %d: %w", t, err)
		}
		m := Magnitude(ColumnFlux(q, u, dp), ColumnFlux(q, v, dp))
		copy(out.Elements[t*plane:(t+1)*plane], m.Elements)
	}
	return out, nil
}
