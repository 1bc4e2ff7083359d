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

package rh15d

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Params holds the iteration settings shared by all workers.
type Params struct {
	// NMaxIter is the maximum number of main iterations per column.
	NMaxIter int

	// IterLimit is the convergence threshold on the maximum relative
	// change, also used to stop the scattering iterations.
	IterLimit float64

	// NMaxScatter is the maximum number of scattering iterations
	// performed after the main iterations have converged.
	NMaxScatter int

	// CheckpointInterval is the number of finished tasks after which the
	// pending task records are written to the checkpoint. Zero is
	// treated as one.
	CheckpointInterval int

	Ray *RayInput
}

// Validate checks the parameters for errors.
func (p *Params) Validate() error {
	switch {
	case p.NMaxIter < 0:
		return fmt.Errorf("rh15d: NMaxIter=%d but should be >=0", p.NMaxIter)
	case !(p.IterLimit > 0):
		return fmt.Errorf("rh15d: IterLimit=%g but should be >0", p.IterLimit)
	case p.NMaxScatter < 0:
		return fmt.Errorf("rh15d: NMaxScatter=%d but should be >=0", p.NMaxScatter)
	case p.CheckpointInterval < 0:
		return fmt.Errorf("rh15d: CheckpointInterval=%d but should be >=0", p.CheckpointInterval)
	case p.Ray == nil:
		return fmt.Errorf("rh15d: missing ray input")
	}
	return nil
}

// Worker solves a contiguous range of tasks.
type Worker struct {
	Comm   Comm
	Tasks  []Task
	Solver ColumnSolver
	Params *Params
	Log    logrus.FieldLogger

	records []TaskRecord
	// flushed is the number of records already written to the checkpoint.
	flushed int
	stats   RunStatistics
}

// init performs the one-time setup before the first task using the
// already loaded first column.
func (w *Worker) init(first *Column) error {
	if err := w.Solver.Prepare(first); err != nil {
		return fmt.Errorf("rh15d: preparing solver: %v", err)
	}
	w.records = make([]TaskRecord, len(w.Tasks))
	for i, t := range w.Tasks {
		w.records[i] = NewTaskRecord(w.Comm.Rank(), t)
	}
	return nil
}

// Run solves all of the worker's tasks in order, writing results to ckpt
// and the emergent spectra of converged tasks to ray. Numerical failures
// of individual tasks do not stop the worker. Run returns an error only
// for failures that should stop the whole run.
func (w *Worker) Run(ctx context.Context, ckpt Checkpoint, ray RayWriter) (RunStatistics, error) {
	rank := w.Comm.Rank()
	if len(w.Tasks) == 0 {
		w.Log.WithField("rank", rank).Info("no tasks assigned")
		return w.stats, nil
	}
	interval := w.Params.CheckpointInterval
	if interval == 0 {
		interval = 1
	}

	col, err := w.load(w.Tasks[0])
	if err != nil {
		return w.stats, err
	}
	if err := w.init(col); err != nil {
		return w.stats, err
	}
	for i, t := range w.Tasks {
		if err := ctx.Err(); err != nil {
			return w.stats, err
		}
		log := w.Log.WithFields(logrus.Fields{
			"rank":   rank,
			"task":   i + 1,
			"ntasks": len(w.Tasks),
			"x":      t.XNum,
			"y":      t.YNum,
		})
		log.Info("START task")

		if i > 0 {
			if col, err = w.load(t); err != nil {
				return w.stats, err
			}
		}

		rec := &w.records[i]
		rec.State = TaskRunning
		rec.ZCut = col.ZCut
		state, spec, solveErr := w.solve(col, rec)
		rec.finish(state)
		w.stats.Count(state)

		switch state {
		case TaskCrashed:
			if err := ckpt.ClearColumn(t.X, t.Y); err != nil {
				return w.stats, err
			}
			log.WithFields(logrus.Fields{
				"iterations": rec.Iterations,
				"error":      solveErr,
			}).Warn("SKIP task: solution crashed")
		default:
			if err := ckpt.WriteColumn(t.X, t.Y, col); err != nil {
				return w.stats, err
			}
			if spec != nil {
				if err := ray.WriteRay(t.X, t.Y, col, spec); err != nil {
					return w.stats, err
				}
			}
			log.WithFields(logrus.Fields{
				"iterations": rec.Iterations,
				"delta_max":  rec.DeltaMax,
				"state":      state,
			}).Info("END task")
		}

		if i+1-w.flushed >= interval {
			if err := w.flush(ckpt, i+1); err != nil {
				return w.stats, err
			}
		}
	}
	if err := w.flush(ckpt, len(w.records)); err != nil {
		return w.stats, err
	}
	return w.stats, nil
}

func (w *Worker) load(t Task) (*Column, error) {
	c, err := w.Solver.Load(t.XNum, t.YNum)
	if err != nil {
		return nil, fmt.Errorf("rh15d: loading column (%d,%d): %v", t.XNum, t.YNum, err)
	}
	return c, nil
}

// flush writes the records that are finished but not yet written.
func (w *Worker) flush(ckpt Checkpoint, done int) error {
	if done <= w.flushed {
		return nil
	}
	if err := ckpt.WriteAllTaskRecords(w.records[w.flushed:done]); err != nil {
		return err
	}
	w.flushed = done
	return nil
}

// solve runs the iterations for column c and, if they converge, the
// scattering iterations and the formal solution for the ray direction.
// A returned error describes the numerical failure of a crashed task.
func (w *Worker) solve(c *Column, rec *TaskRecord) (state TaskState, spec *Spectrum, err error) {
	defer func() {
		if r := recover(); r != nil {
			state, spec, err = TaskCrashed, nil, fmt.Errorf("panic: %v", r)
		}
	}()
	p := w.Params
	res, err := w.Solver.Iterate(c, p.NMaxIter, p.IterLimit)
	if err != nil {
		return TaskCrashed, nil, err
	}
	rec.setIterations(res)
	state = Classify(res, p.NMaxIter)
	if state != TaskConverged {
		return state, nil, nil
	}
	for n := 0; n < p.NMaxScatter; n++ {
		residual, err := w.Solver.SolveSpectrum(c)
		if err != nil {
			return TaskCrashed, nil, err
		}
		if residual <= p.IterLimit {
			break
		}
	}
	spec, err = w.Solver.SolveForDirection(c, p.Ray.Mu, p.Ray.Wavelengths)
	if err != nil {
		return TaskCrashed, nil, err
	}
	return TaskConverged, spec, nil
}

// Records returns the records of the worker's tasks.
func (w *Worker) Records() []TaskRecord { return w.records }
