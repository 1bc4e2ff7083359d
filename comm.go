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
	"sync"

	"github.com/grailbio/base/sync/ctxsync"
)

// Group is a set of workers running in the same process.
type Group struct {
	size int

	mu      sync.Mutex
	cond    *ctxsync.Cond
	waiting int
	// generation is incremented each time all workers reach the barrier.
	generation int
}

// NewGroup returns a group of size workers.
func NewGroup(size int) *Group {
	g := &Group{size: size}
	g.cond = ctxsync.NewCond(&g.mu)
	return g
}

// Comm returns the communicator of the worker with the given rank.
func (g *Group) Comm(rank int) Comm {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("rh15d: rank %d out of range [0,%d)", rank, g.size))
	}
	return &localComm{g: g, rank: rank}
}

func (g *Group) barrier(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	gen := g.generation
	g.waiting++
	if g.waiting == g.size {
		g.waiting = 0
		g.generation++
		g.cond.Broadcast()
		return nil
	}
	for gen == g.generation {
		if err := g.cond.Wait(ctx); err != nil {
			if gen == g.generation {
				g.waiting--
			}
			return err
		}
	}
	return nil
}

type localComm struct {
	g    *Group
	rank int
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.g.size }

func (c *localComm) Barrier(ctx context.Context) error {
	return c.g.barrier(ctx)
}
