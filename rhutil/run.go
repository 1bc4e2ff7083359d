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

package rhutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/rh15d"
	"github.com/spatialmodel/rh15d/atmos"
	"github.com/spatialmodel/rh15d/checkpoint"
	"github.com/spatialmodel/rh15d/science/lambda"
	"golang.org/x/sync/errgroup"
)

// Run solves the columns selected in c, distributing them over
// c.NumWorkers workers. Crashed columns are counted in the returned
// statistics but are not an error.
func Run(ctx context.Context, c *Config, log logrus.FieldLogger) (rh15d.RunStatistics, error) {
	start := time.Now()
	var stats rh15d.RunStatistics

	u := new(uploader)
	defer u.cleanup()
	atmosPath, err := maybeDownload(ctx, c.AtmosFile)
	if err != nil {
		return stats, err
	}
	output, err := u.maybeUpload(ctx, c.OutputFile, c.Resume)
	if err != nil {
		return stats, err
	}
	rayOutput, err := u.maybeUpload(ctx, c.RayOutputFile, c.Resume)
	if err != nil {
		return stats, err
	}
	if c.Resume {
		for _, f := range []string{output, rayOutput} {
			if _, err := os.Stat(f); err != nil {
				return stats, fmt.Errorf("rh15d: nothing to resume: %v", err)
			}
		}
	}

	atm, err := atmos.Open(atmosPath)
	if err != nil {
		return stats, err
	}
	defer atm.Close()
	tm, err := rh15d.NewTaskMap(c.Region, atm.NX, atm.NY)
	if err != nil {
		return stats, err
	}
	nx, ny := tm.Shape()
	if c.SkipConverged {
		if err := skipConverged(tm, output); err != nil {
			return stats, err
		}
	}

	// The wavelength grid does not depend on the atmosphere.
	grid, err := lambda.New(c.Lambda, nil)
	if err != nil {
		return stats, err
	}
	ckptCfg := &checkpoint.Config{
		Path:       output,
		NX:         nx,
		NY:         ny,
		NZ:         atm.NZ,
		MaxIter:    c.MaxIterCap,
		XNum:       tm.XNum,
		YNum:       tm.YNum,
		X:          coords(atm.X, tm.XNum),
		Y:          coords(atm.Y, tm.YNum),
		AtmosID:    atm.ID,
		ConfigHash: c.Hash(),
		Attributes: c.attributes(),
		Overwrite:  c.Overwrite,
	}
	rayCfg := &checkpoint.RayConfig{
		Path:       rayOutput,
		NX:         nx,
		NY:         ny,
		NZ:         atm.NZ,
		Wavelength: grid.Wavelengths(),
		Selected:   c.Params.Ray.Wavelengths,
		Mu:         c.Params.Ray.Mu,
		Overwrite:  c.Overwrite,
	}

	ranges, err := rh15d.Assign(tm.Len(), c.NumWorkers)
	if err != nil {
		return stats, err
	}
	log.WithFields(logrus.Fields{
		"atmosphere": atm.ID,
		"nx":         nx,
		"ny":         ny,
		"nz":         atm.NZ,
		"ntasks":     tm.Len(),
		"nworkers":   c.NumWorkers,
		"resume":     c.Resume,
	}).Info("starting run")

	group := rh15d.NewGroup(c.NumWorkers)
	eg, gctx := errgroup.WithContext(ctx)
	rankStats := make([]rh15d.RunStatistics, c.NumWorkers)
	for rank, r := range ranges {
		rank := rank
		rr := &rankRun{
			comm:  group.Comm(rank),
			tasks: tm.Range(r),
			atm:   atm,
			cfg:   c,
			ckpt:  ckptCfg,
			ray:   rayCfg,
			log:   log,
		}
		eg.Go(func() error {
			var err error
			rankStats[rank], err = rr.run(gctx)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return stats, err
	}
	for _, s := range rankStats {
		stats = stats.Add(s)
	}
	if err := u.upload(ctx); err != nil {
		return stats, err
	}
	log.WithField("elapsed", time.Since(start).String()).Info(stats.String())
	return stats, nil
}

// skipConverged removes the tasks of cells that already converged in
// the checkpoint at path.
func skipConverged(tm *rh15d.TaskMap, path string) error {
	conv, err := checkpoint.ReadConvergence(path)
	if err != nil {
		return err
	}
	nx, ny := tm.Shape()
	if len(conv) != nx {
		return &checkpoint.DimensionError{Name: "nx", File: len(conv), Want: nx}
	}
	if nx > 0 && len(conv[0]) != ny {
		return &checkpoint.DimensionError{Name: "ny", File: len(conv[0]), Want: ny}
	}
	tm.Filter(func(t rh15d.Task) bool {
		return conv[t.X][t.Y] != rh15d.Converged
	})
	return nil
}

// coords returns the coordinates at the given indices.
func coords(all []float64, idx []int) []float64 {
	if all == nil {
		return nil
	}
	o := make([]float64, len(idx))
	for i, j := range idx {
		o[i] = all[j]
	}
	return o
}

// rankRun holds what one worker needs for a run.
type rankRun struct {
	comm  rh15d.Comm
	tasks []rh15d.Task
	atm   *atmos.Atmosphere
	cfg   *Config
	ckpt  *checkpoint.Config
	ray   *checkpoint.RayConfig
	log   logrus.FieldLogger
}

type closer interface {
	Close(ctx context.Context) error
}

// release closes the output file c without waiting for the other
// workers. It is only called when the worker is already failing, so the
// close error is logged instead of replacing the original one.
func (r *rankRun) release(ctx context.Context, c closer, name string) {
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := c.Close(ctx); err != nil {
		r.log.WithError(err).WithField("file", name).Debug("closing output after failure")
	}
}

// run opens the output files collectively, solves the worker's tasks
// and closes the files collectively.
func (r *rankRun) run(ctx context.Context) (rh15d.RunStatistics, error) {
	var stats rh15d.RunStatistics
	solver, err := lambda.New(r.cfg.Lambda, r.atm)
	if err != nil {
		return stats, err
	}

	var store *checkpoint.Store
	if r.cfg.Resume {
		store, err = checkpoint.Open(ctx, r.comm, r.ckpt, r.log)
	} else {
		store, err = checkpoint.Create(ctx, r.comm, r.ckpt)
	}
	if err != nil {
		return stats, err
	}
	var ray *checkpoint.RayFile
	if r.cfg.Resume {
		ray, err = checkpoint.OpenRay(ctx, r.comm, r.ray)
	} else {
		ray, err = checkpoint.CreateRay(ctx, r.comm, r.ray)
	}
	if err != nil {
		r.release(ctx, store, r.ckpt.Path)
		return stats, err
	}

	w := &rh15d.Worker{
		Comm:   r.comm,
		Tasks:  r.tasks,
		Solver: solver,
		Params: r.cfg.Params,
		Log:    r.log,
	}
	if stats, err = w.Run(ctx, store, ray); err != nil {
		r.release(ctx, ray, r.ray.Path)
		r.release(ctx, store, r.ckpt.Path)
		return stats, err
	}

	log := r.log.WithField("rank", r.comm.Rank())
	log.Info("START output")
	if err := ray.Close(ctx); err != nil {
		r.release(ctx, store, r.ckpt.Path)
		return stats, err
	}
	if err := store.Close(ctx); err != nil {
		return stats, err
	}
	log.Info("END output")
	return stats, nil
}

// ConvergenceSummary counts the task outcomes recorded in a checkpoint.
type ConvergenceSummary struct {
	rh15d.RunStatistics

	// Pending is the number of cells without a task record.
	Pending int
}

func (s ConvergenceSummary) String() string {
	return fmt.Sprintf("Total %d 1-D columns: %d converged, %d not converged, %d crashed, %d not computed",
		s.Total()+s.Pending, s.Converged, s.NotConverged, s.Crashed, s.Pending)
}

// Convergence summarizes the convergence flags of the checkpoint at
// path, which may be a blob storage path or URL.
func Convergence(ctx context.Context, path string) (*ConvergenceSummary, error) {
	local, err := maybeDownload(ctx, path)
	if err != nil {
		return nil, err
	}
	conv, err := checkpoint.ReadConvergence(local)
	if err != nil {
		return nil, err
	}
	s := new(ConvergenceSummary)
	for x, row := range conv {
		for y, flag := range row {
			switch flag {
			case rh15d.Converged:
				s.Converged++
			case rh15d.NotConverged:
				s.NotConverged++
			case rh15d.Crashed:
				s.Crashed++
			case checkpoint.IntFillValue:
				s.Pending++
			default:
				return nil, fmt.Errorf("rh15d: invalid convergence flag %d at (%d,%d)", flag, x, y)
			}
		}
	}
	return s, nil
}
