package era5

import (
	"fmt"
	"io"
	"os"

	"github.com/ctessum/cdf"
)

// Contents is everything written to a NetCDF file.
type Contents struct {
	Variables  []Variable
	Attributes []Attribute
}

// dimensions returns the dimension names in order of first use and their
// lengths, checking that every variable agrees on them.
func (c *Contents) dimensions() ([]string, []int, error) {
	var names []string
	lengths := make(map[string]int)
	for _, v := range c.Variables {
		if len(v.Dimensions) != len(v.Shape) {
			return nil, nil, fmt.Errorf("%w: %s has %d dimensions and shape %v", ErrShapeMismatch, v.Name, len(v.Dimensions), v.Shape)
		}
		for i, dim := range v.Dimensions {
			n, seen := lengths[dim]
			if !seen {
				if v.Shape[i] == 0 {
					return nil, nil, fmt.Errorf("%w: %s is empty", ErrDegenerateAxis, dim)
				}
				names = append(names, dim)
				lengths[dim] = v.Shape[i]
				continue
			}
			if n != v.Shape[i] {
				return nil, nil, fmt.Errorf("%w: %s has length %d in %s, %d elsewhere", ErrShapeMismatch, dim, v.Shape[i], v.Name, n)
			}
		}
	}
	ls := make([]int, len(names))
	for i, name := range names {
		ls[i] = lengths[name]
	}
	return names, ls, nil
}

// Write writes the contents to filePath in NetCDF classic format. The file is
// written next to its destination and renamed into place, so filePath either
// holds a complete file or is left as it was. Attributes without a classic
// representation are skipped.
func Write(filePath string, c *Contents) (err error) {
	dims, lengths, err := c.dimensions()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Variables))
	for _, v := range c.Variables {
		if seen[v.Name] {
			return fmt.Errorf("duplicate variable %s", v.Name)
		}
		seen[v.Name] = true
		if dataType(v.Values) == "" {
			return fmt.Errorf("%w: %s holds %T", ErrUnsupportedType, v.Name, v.Values)
		}
		if n := valuesLen(v.Values); n != v.Len() {
			return fmt.Errorf("%w: %s has %d values for shape %v", ErrShapeMismatch, v.Name, n, v.Shape)
		}
	}

	h := cdf.NewHeader(dims, lengths)
	for _, a := range c.Attributes {
		if val, ok := attributeValue(a.Value); ok {
			h.AddAttribute("", a.Name, val)
		}
	}
	for _, v := range c.Variables {
		h.AddVariable(v.Name, v.Dimensions, v.Values)
		for _, a := range v.Attributes {
			if val, ok := attributeValue(a.Value); ok {
				h.AddAttribute(v.Name, a.Name, val)
			}
		}
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("defining %s: %w", filePath, err)
	}

	tmp := filePath + ".tmp"
	ff, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			ff.Close()
			os.Remove(tmp)
		}
	}()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filePath, err)
	}
	for _, v := range c.Variables {
		// The writer reports io.EOF once it reaches the end of the variable.
		n, werr := f.Writer(v.Name, nil, nil).Write(v.Values)
		if werr == io.EOF && n == v.Len() {
			werr = nil
		}
		if werr != nil {
			return fmt.Errorf("writing variable %s to %s: %w", v.Name, filePath, werr)
		}
	}
	if err = cdf.UpdateNumRecs(ff); err != nil {
		return fmt.Errorf("finalizing %s: %w", filePath, err)
	}
	if err = ff.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}

func dataType(values any) string {
	switch values.(type) {
	case []uint8:
		return "byte"
	case []int16:
		return "short"
	case []int32:
		return "int"
	case []float32:
		return "float"
	case []float64:
		return "double"
	}
	return ""
}

func valuesLen(values any) int {
	switch vals := values.(type) {
	case []uint8:
		return len(vals)
	case []int16:
		return len(vals)
	case []int32:
		return len(vals)
	case []float32:
		return len(vals)
	case []float64:
		return len(vals)
	}
	return -1
}
