/*
Copyright © 2019 the rh15d authors.
This file is part of rh15d.

rh15d is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

rh15d is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with rh15d.  If not, see <http://www.gnu.org/licenses/>.
*/

package checkpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/rh15d"
)

// shared is a netCDF file opened by every worker of a group, each
// through its own file descriptor.
type shared struct {
	comm rh15d.Comm
	w    *os.File
	f    *cdf.File
}

// createShared creates the file at path from header h on rank 0, which
// also fills every variable with its fill value and then calls init.
// The other ranks wait for rank 0 and then open their own handle.
func createShared(ctx context.Context, comm rh15d.Comm, path string, overwrite bool, h *cdf.Header, init func(f *cdf.File) error) (*shared, error) {
	if comm.Rank() == 0 {
		if err := create(path, overwrite, h, init); err != nil {
			return nil, err
		}
	}
	if err := comm.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("checkpoint: waiting for %s to be created: %v", path, err)
	}
	return openShared(ctx, comm, path, nil)
}

func create(path string, overwrite bool, h *cdf.Header, init func(f *cdf.File) error) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("checkpoint: file %s already exists; resume the run or allow overwriting", path)
	}
	if errs := h.Check(); len(errs) != 0 {
		msg := make([]string, len(errs))
		for i, err := range errs {
			msg[i] = err.Error()
		}
		return fmt.Errorf("checkpoint: invalid header for %s: %s", path, strings.Join(msg, "; "))
	}
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %v", err)
	}
	f, err := cdf.Create(w, h)
	if err != nil {
		w.Close()
		return fmt.Errorf("checkpoint: creating %s: %v", path, err)
	}
	for _, v := range h.Variables() {
		if err := fill(f, v); err != nil {
			w.Close()
			return fmt.Errorf("checkpoint: filling %s: %v", v, err)
		}
	}
	if init != nil {
		if err := init(f); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// openShared opens an existing file for reading and writing. If validate
// is not nil it is called with the file's contents before the ranks
// synchronize.
func openShared(ctx context.Context, comm rh15d.Comm, path string, validate func(f *cdf.File) error) (*shared, error) {
	w, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %v", err)
	}
	f, err := cdf.Open(w)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("checkpoint: opening %s: %v", path, err)
	}
	if validate != nil {
		if err := validate(f); err != nil {
			w.Close()
			return nil, err
		}
	}
	s := &shared{comm: comm, w: w, f: f}
	if err := comm.Barrier(ctx); err != nil {
		w.Close()
		return nil, fmt.Errorf("checkpoint: waiting for workers to open %s: %v", path, err)
	}
	return s, nil
}

// close waits for all workers to finish writing and then releases the
// file. The file is released even if the wait fails.
func (s *shared) close(ctx context.Context) error {
	if s.w == nil {
		return fmt.Errorf("checkpoint: file already closed")
	}
	berr := s.comm.Barrier(ctx)
	err := s.w.Close()
	s.w, s.f = nil, nil
	if berr != nil {
		return fmt.Errorf("checkpoint: waiting for workers to finish writing: %v", berr)
	}
	return err
}

// fillChunk is the number of values written at a time when filling a
// variable.
const fillChunk = 1 << 16

// fill writes the fill value to every element of variable v.
func fill(f *cdf.File, v string) error {
	n := 1
	for _, l := range f.Header.Lengths(v) {
		n *= l
	}
	w := f.Writer(v, nil, nil)
	var chunk interface{}
	switch fv := f.Header.FillValue(v).(type) {
	case float32:
		c := make([]float32, min(n, fillChunk))
		for i := range c {
			c[i] = fv
		}
		chunk = c
	case float64:
		c := make([]float64, min(n, fillChunk))
		for i := range c {
			c[i] = fv
		}
		chunk = c
	case int32:
		c := make([]int32, min(n, fillChunk))
		for i := range c {
			c[i] = fv
		}
		chunk = c
	default:
		return fmt.Errorf("unsupported fill value type %T", fv)
	}
	for done := 0; done < n; {
		c := chunk
		if rem := n - done; rem < fillChunk {
			c = slice(chunk, rem)
		}
		nw, err := w.Write(c)
		done += nw
		if err != nil && !(err == io.EOF && done == n) {
			return err
		}
	}
	return nil
}

func slice(v interface{}, n int) interface{} {
	switch v := v.(type) {
	case []float32:
		return v[:n]
	case []float64:
		return v[:n]
	case []int32:
		return v[:n]
	}
	panic(fmt.Errorf("invalid type %T", v))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// writeSlab writes data to variable v starting at index begin, with the
// last dimension varying over len(data) elements.
func writeSlab(f *cdf.File, v string, begin []int, data interface{}, n int) error {
	if n == 0 {
		return nil
	}
	end := make([]int, len(begin))
	copy(end, begin)
	end[len(end)-1] += n - 1
	w := f.Writer(v, begin, end)
	if w == nil {
		return fmt.Errorf("checkpoint: no variable %s", v)
	}
	// The writer reports io.EOF once the last element has been written.
	if _, err := w.Write(data); err != nil && err != io.EOF {
		return fmt.Errorf("checkpoint: writing %s at %v: %v", v, begin, err)
	}
	return nil
}

// readSlab reads n values of variable v starting at index begin along
// the last dimension.
func readSlab(f *cdf.File, v string, begin []int, n int) (interface{}, error) {
	end := make([]int, len(begin))
	copy(end, begin)
	end[len(end)-1] += n - 1
	r := f.Reader(v, begin, end)
	if r == nil {
		return nil, fmt.Errorf("checkpoint: no variable %s", v)
	}
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("checkpoint: reading %s at %v: %v", v, begin, err)
	}
	return buf, nil
}

// addAttributes adds global attributes in sorted order. Values may be
// integers, floating point numbers, booleans or strings.
func addAttributes(h *cdf.Header, attrs map[string]interface{}) {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.AddAttribute("", name, attrValue(attrs[name]))
	}
}

func attrValue(v interface{}) interface{} {
	switch v := v.(type) {
	case int:
		return []int32{int32(v)}
	case int32:
		return []int32{v}
	case int64:
		return []int32{int32(v)}
	case bool:
		if v {
			return []int32{1}
		}
		return []int32{0}
	case float32:
		return []float32{v}
	case float64:
		return []float64{v}
	case string:
		return v
	case []int32, []float32, []float64:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// intAttr returns the value of the scalar integer global attribute name.
func intAttr(f *cdf.File, name string) (int, bool) {
	v, ok := f.Header.GetAttribute("", name).([]int32)
	if !ok || len(v) != 1 {
		return 0, false
	}
	return int(v[0]), true
}

func stringAttr(f *cdf.File, name string) string {
	v, _ := f.Header.GetAttribute("", name).(string)
	return v
}

func float32s(v []float64) []float32 {
	o := make([]float32, len(v))
	for i, x := range v {
		o[i] = float32(x)
	}
	return o
}
