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
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/rh15d"
	"golang.org/x/sync/errgroup"
)

func testConfig(t *testing.T) (*Config, func()) {
	dir, err := ioutil.TempDir("", "rh15d_checkpoint")
	if err != nil {
		t.Fatal(err)
	}
	c := &Config{
		Path:       filepath.Join(dir, "output_indata.ncdf"),
		NX:         3,
		NY:         2,
		NZ:         5,
		MaxIter:    4,
		XNum:       []int{0, 2, 4},
		YNum:       []int{1, 2},
		AtmosID:    "FALC",
		ConfigHash: "abc",
		Attributes: map[string]interface{}{
			"input.N_max_iter":      4,
			"input.Iteration_limit": 1e-3,
			"input.Atmos_file":      "falc.ncdf",
		},
	}
	return c, func() { os.RemoveAll(dir) }
}

func single() rh15d.Comm { return rh15d.NewGroup(1).Comm(0) }

func TestCreate_fill(t *testing.T) {
	c, cleanup := testConfig(t)
	defer cleanup()
	ctx := context.Background()
	s, err := Create(ctx, single(), c)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err == nil {
		t.Error("closing twice should be an error")
	}

	d, err := OpenDataset(c.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if d.NX != 3 || d.NY != 2 || d.NZ != 5 || d.MaxIter != 4 || d.AtmosID != "FALC" {
		t.Errorf("dataset: %+v", d)
	}
	if v, ok := d.Attribute("input.N_max_iter").([]int32); !ok || v[0] != 4 {
		t.Errorf("input.N_max_iter = %v", d.Attribute("input.N_max_iter"))
	}
	conv, err := d.Convergence()
	if err != nil {
		t.Fatal(err)
	}
	for x := range conv {
		for y, v := range conv[x] {
			if v != IntFillValue {
				t.Errorf("convergence[%d][%d] = %d", x, y, v)
			}
		}
	}
	if _, err := d.TaskRecord(1, 1); err != ErrUnwritten {
		t.Errorf("got %v, want %v", err, ErrUnwritten)
	}
	temp, _, _, err := d.Column(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range temp {
		if v != float64(FillValue) {
			t.Errorf("temperature[%d] = %g", k, v)
		}
	}
}

func TestCreate_exists(t *testing.T) {
	c, cleanup := testConfig(t)
	defer cleanup()
	ctx := context.Background()
	s, err := Create(ctx, single(), c)
	if err != nil {
		t.Fatal(err)
	}
	s.Close(ctx)
	if _, err := Create(ctx, single(), c); err == nil {
		t.Error("creating over an existing file should fail")
	}
	c.Overwrite = true
	s, err = Create(ctx, single(), c)
	if err != nil {
		t.Fatal(err)
	}
	s.Close(ctx)
}

// A resumed run keeps the cells written by an earlier run.
func TestOpen_resume(t *testing.T) {
	c, cleanup := testConfig(t)
	defer cleanup()
	ctx := context.Background()
	log := logrus.StandardLogger()

	s, err := Create(ctx, single(), c)
	if err != nil {
		t.Fatal(err)
	}
	col := &rh15d.Column{
		ZCut:        2,
		Temperature: []float64{4000, 5000, 6000},
		VelocityZ:   []float64{-1, 0, 1},
		Height:      []float64{200, 100, 0},
	}
	if err := s.WriteColumn(1, 0, col); err != nil {
		t.Fatal(err)
	}
	first := rh15d.TaskRecord{
		Rank: 0, Task: 2, X: 1, Y: 0,
		Iterations: 3, Convergence: rh15d.Converged, DeltaMax: 0.0005,
		DeltaMaxHistory: []float64{0.5, 0.25, 0.0005}, ZCut: 2,
	}
	if err := s.WriteTaskRecord(&first); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	s, err = Open(ctx, single(), c, log)
	if err != nil {
		t.Fatal(err)
	}
	second := rh15d.TaskRecord{
		Rank: 0, Task: 0, X: 0, Y: 0,
		Iterations: 1, Convergence: rh15d.Crashed, DeltaMax: 0,
		DeltaMaxHistory: []float64{0},
	}
	if err := s.WriteAllTaskRecords([]rh15d.TaskRecord{second}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	d, err := OpenDataset(c.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	r, err := d.TaskRecord(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.Task != 2 || r.Iterations != 3 || r.Convergence != rh15d.Converged || r.ZCut != 2 {
		t.Errorf("resumed record: %+v", r)
	}
	if want := []float64{0.5, 0.25, float64(float32(0.0005))}; !reflect.DeepEqual(r.DeltaMaxHistory, want) {
		t.Errorf("history = %v, want %v", r.DeltaMaxHistory, want)
	}
	temp, vz, _, err := d.Column(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	f := float64(FillValue)
	if want := []float64{f, f, 4000, 5000, 6000}; !reflect.DeepEqual(temp, want) {
		t.Errorf("temperature = %v, want %v", temp, want)
	}
	if want := []float64{f, f, -1, 0, 1}; !reflect.DeepEqual(vz, want) {
		t.Errorf("velocity = %v, want %v", vz, want)
	}
	r, err = d.TaskRecord(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != rh15d.TaskCrashed {
		t.Errorf("state = %v", r.State)
	}
	conv, err := ReadConvergence(c.Path)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]int32{{-1, IntFillValue}, {1, IntFillValue}, {IntFillValue, IntFillValue}}
	if !reflect.DeepEqual(conv, want) {
		t.Errorf("convergence = %v, want %v", conv, want)
	}
}

// Rewriting a cell on resume replaces its history and column data
// instead of leaving entries from the earlier run behind.
func TestOpen_rewrite(t *testing.T) {
	c, cleanup := testConfig(t)
	defer cleanup()
	ctx := context.Background()

	s, err := Create(ctx, single(), c)
	if err != nil {
		t.Fatal(err)
	}
	col := &rh15d.Column{
		ZCut:        2,
		Temperature: []float64{4000, 5000, 6000},
		VelocityZ:   []float64{-1, 0, 1},
		Height:      []float64{200, 100, 0},
	}
	if err := s.WriteColumn(2, 1, col); err != nil {
		t.Fatal(err)
	}
	first := rh15d.TaskRecord{
		X: 2, Y: 1, Iterations: 4, Convergence: rh15d.NotConverged, DeltaMax: 0.1,
		DeltaMaxHistory: []float64{0.8, 0.4, 0.2, 0.1}, ZCut: 2,
	}
	if err := s.WriteTaskRecord(&first); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	s, err = Open(ctx, single(), c, logrus.StandardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ClearColumn(2, 1); err != nil {
		t.Fatal(err)
	}
	second := rh15d.TaskRecord{
		X: 2, Y: 1, Iterations: 2, Convergence: rh15d.Crashed,
		DeltaMaxHistory: []float64{0.5, 0}, ZCut: 2,
	}
	if err := s.WriteTaskRecord(&second); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearColumn(3, 0); err == nil {
		t.Error("x=3 is outside of the grid")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	d, err := OpenDataset(c.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	buf, err := readSlab(d.f, VarHistory, []int{2, 1, 0}, c.MaxIter)
	if err != nil {
		t.Fatal(err)
	}
	if want := []float32{0.5, 0, FillValue, FillValue}; !reflect.DeepEqual(buf.([]float32), want) {
		t.Errorf("history = %v, want %v", buf, want)
	}
	temp, vz, z, err := d.Column(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	f := float64(FillValue)
	want := []float64{f, f, f, f, f}
	for name, v := range map[string][]float64{"temperature": temp, "velocity": vz, "height": z} {
		if !reflect.DeepEqual(v, want) {
			t.Errorf("%s = %v, want %v", name, v, want)
		}
	}
}

func TestOpen_mismatch(t *testing.T) {
	c, cleanup := testConfig(t)
	defer cleanup()
	ctx := context.Background()
	s, err := Create(ctx, single(), c)
	if err != nil {
		t.Fatal(err)
	}
	s.Close(ctx)

	t.Run("dimensions", func(t *testing.T) {
		c2 := *c
		c2.NZ = 6
		_, err := Open(ctx, single(), &c2, logrus.StandardLogger())
		if _, ok := err.(*DimensionError); !ok {
			t.Errorf("got %v, want a dimension error", err)
		}
	})
	t.Run("history", func(t *testing.T) {
		c2 := *c
		c2.MaxIter = 10
		_, err := Open(ctx, single(), &c2, logrus.StandardLogger())
		if _, ok := err.(*DimensionError); !ok {
			t.Errorf("got %v, want a dimension error", err)
		}
	})
	t.Run("atmosphere", func(t *testing.T) {
		c2 := *c
		c2.AtmosID = "other"
		log, hook := test.NewNullLogger()
		s, err := Open(ctx, single(), &c2, log)
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close(ctx)
		if e := hook.LastEntry(); e == nil || e.Level != logrus.WarnLevel {
			t.Errorf("expected a warning, got %v", e)
		}
	})
}

func TestStore_bounds(t *testing.T) {
	c, cleanup := testConfig(t)
	defer cleanup()
	ctx := context.Background()
	s, err := Create(ctx, single(), c)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(ctx)
	if err := s.WriteColumn(3, 0, &rh15d.Column{}); err == nil {
		t.Error("x=3 is outside of the grid")
	}
	col := &rh15d.Column{ZCut: 4, Temperature: []float64{1, 2}, VelocityZ: []float64{1, 2}, Height: []float64{1, 2}}
	if err := s.WriteColumn(0, 0, col); err == nil {
		t.Error("column extends beyond nz")
	}
	r := rh15d.TaskRecord{Iterations: 5, DeltaMaxHistory: make([]float64, 5)}
	if err := s.WriteTaskRecord(&r); err == nil {
		t.Error("history exceeds capacity")
	}
}

// Workers writing disjoint cells through their own handles must not
// interfere with each other.
func TestStore_concurrent(t *testing.T) {
	c, cleanup := testConfig(t)
	defer cleanup()
	const n = 3
	group := rh15d.NewGroup(n)
	g, ctx := errgroup.WithContext(context.Background())
	for rank := 0; rank < n; rank++ {
		comm := group.Comm(rank)
		g.Go(func() error {
			s, err := Create(ctx, comm, c)
			if err != nil {
				return err
			}
			x := comm.Rank()
			for y := 0; y < c.NY; y++ {
				r := rh15d.TaskRecord{
					Rank: x, Task: x*c.NY + y, X: x, Y: y,
					Iterations: 2, Convergence: rh15d.NotConverged, DeltaMax: 0.5,
					DeltaMaxHistory: []float64{1, 0.5},
				}
				if err := s.WriteTaskRecord(&r); err != nil {
					s.Close(ctx)
					return err
				}
			}
			return s.Close(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	d, err := OpenDataset(c.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	for x := 0; x < c.NX; x++ {
		for y := 0; y < c.NY; y++ {
			r, err := d.TaskRecord(x, y)
			if err != nil {
				t.Fatalf("cell (%d,%d): %v", x, y, err)
			}
			if r.Rank != x || r.Task != x*c.NY+y || r.Iterations != 2 {
				t.Errorf("cell (%d,%d): %+v", x, y, r)
			}
		}
	}
}
