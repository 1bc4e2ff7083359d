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
	"path/filepath"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/rh15d"
	"github.com/spatialmodel/rh15d/cloud"
	"github.com/spatialmodel/rh15d/internal/hash"
	"github.com/spatialmodel/rh15d/science/lambda"
	"github.com/spf13/cast"
)

// Config holds the validated settings of a run.
type Config struct {
	// AtmosFile, OutputFile and RayOutputFile may be blob storage
	// paths. LogFile is always local.
	AtmosFile     string
	OutputFile    string
	RayOutputFile string
	LogFile       string

	NumWorkers    int
	Resume        bool
	Overwrite     bool
	SkipConverged bool

	Region rh15d.Region
	Params *rh15d.Params

	// MaxIterCap is the length of the stored iteration history.
	MaxIterCap int

	Lambda *lambda.Config
}

// getter reads typed values from a viper configuration, keeping the
// first error.
type getter struct {
	cfg *viper.Viper
	err error
}

func (g *getter) getInt(name string) int {
	v, err := cast.ToIntE(g.cfg.Get(name))
	if err != nil && g.err == nil {
		g.err = fmt.Errorf("rh15d: configuration variable %s: %v", name, err)
	}
	return v
}

func (g *getter) getFloat(name string) float64 {
	v, err := cast.ToFloat64E(g.cfg.Get(name))
	if err != nil && g.err == nil {
		g.err = fmt.Errorf("rh15d: configuration variable %s: %v", name, err)
	}
	return v
}

func (g *getter) getBool(name string) bool {
	v, err := cast.ToBoolE(g.cfg.Get(name))
	if err != nil && g.err == nil {
		g.err = fmt.Errorf("rh15d: configuration variable %s: %v", name, err)
	}
	return v
}

func (g *getter) getString(name string) string {
	return os.ExpandEnv(g.cfg.GetString(name))
}

// LoadConfig reads and validates the run settings in cfg. It also reads
// the ray input file, downloading it first if necessary.
func LoadConfig(ctx context.Context, cfg *viper.Viper) (*Config, error) {
	g := &getter{cfg: cfg}
	c := &Config{
		AtmosFile:     g.getString("AtmosFile"),
		NumWorkers:    g.getInt("NumWorkers"),
		Resume:        g.getBool("Resume"),
		Overwrite:     g.getBool("Overwrite"),
		SkipConverged: g.getBool("SkipConverged"),
		Region: rh15d.Region{
			XStart: g.getInt("Grid.XStart"),
			XEnd:   g.getInt("Grid.XEnd"),
			XStep:  g.getInt("Grid.XStep"),
			YStart: g.getInt("Grid.YStart"),
			YEnd:   g.getInt("Grid.YEnd"),
			YStep:  g.getInt("Grid.YStep"),
		},
		Params: &rh15d.Params{
			NMaxIter:           g.getInt("NMaxIter"),
			IterLimit:          g.getFloat("IterLimit"),
			NMaxScatter:        g.getInt("NMaxScatter"),
			CheckpointInterval: g.getInt("CheckpointInterval"),
		},
		MaxIterCap: g.getInt("MaxIterCap"),
		Lambda: &lambda.Config{
			LineCenter:         g.getFloat("Lambda.LineCenter"),
			NWavelength:        g.getInt("Lambda.NWavelength"),
			HalfWidth:          g.getFloat("Lambda.HalfWidth"),
			Epsilon:            g.getFloat("Lambda.Epsilon"),
			LineRatio:          g.getFloat("Lambda.LineRatio"),
			ContinuumOpacity:   g.getFloat("Lambda.ContinuumOpacity"),
			OpacityScaleHeight: g.getFloat("Lambda.OpacityScaleHeight"),
			AtomicMass:         g.getFloat("Lambda.AtomicMass"),
			Microturbulence:    g.getFloat("Lambda.Microturbulence"),
			NMu:                g.getInt("Lambda.NMu"),
			MaxTemperature:     g.getFloat("Lambda.MaxTemperature"),
		},
	}
	if g.err != nil {
		return nil, g.err
	}
	if c.AtmosFile == "" {
		return nil, fmt.Errorf("rh15d: you need to specify the input atmosphere in the AtmosFile configuration variable")
	}
	var err error
	if c.OutputFile, err = checkOutputFile(ctx, "OutputFile", g.getString("OutputFile")); err != nil {
		return nil, err
	}
	if c.RayOutputFile, err = checkOutputFile(ctx, "RayOutputFile", g.getString("RayOutputFile")); err != nil {
		return nil, err
	}
	if c.RayOutputFile == c.OutputFile {
		return nil, fmt.Errorf("rh15d: OutputFile and RayOutputFile are both set to %s", c.OutputFile)
	}
	c.LogFile = checkLogFile(g.getString("LogFile"), c.OutputFile)

	rayPath, err := maybeDownload(ctx, g.getString("RayInputFile"))
	if err != nil {
		return nil, err
	}
	if c.Params.Ray, err = readRayInput(rayPath); err != nil {
		return nil, err
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("rh15d: NumWorkers=%d but should be >=1", c.NumWorkers)
	}
	if c.SkipConverged && !c.Resume {
		return fmt.Errorf("rh15d: SkipConverged requires Resume to be true")
	}
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.MaxIterCap < 1 || c.Params.NMaxIter > c.MaxIterCap {
		return fmt.Errorf("rh15d: NMaxIter=%d must not be greater than MaxIterCap=%d", c.Params.NMaxIter, c.MaxIterCap)
	}
	if err := c.Lambda.Validate(); err != nil {
		return err
	}
	return c.Params.Ray.Validate(c.Lambda.NWavelength)
}

// Hash identifies the numerical settings of the run. Runs with the same
// hash produce the same results for the same atmosphere.
func (c *Config) Hash() string {
	p := c.Params
	return hash.Fingerprint(p.NMaxIter, p.IterLimit, p.NMaxScatter, p.Ray, c.Lambda, c.MaxIterCap)
}

// attributes returns the settings that are recorded in the checkpoint.
func (c *Config) attributes() map[string]interface{} {
	return map[string]interface{}{
		"input.atmos_file":    c.AtmosFile,
		"input.n_max_iter":    c.Params.NMaxIter,
		"input.iter_limit":    c.Params.IterLimit,
		"input.n_max_scatter": c.Params.NMaxScatter,
		"input.mu":            c.Params.Ray.Mu,
		"input.n_workers":     c.NumWorkers,
		"run.x_start":         c.Region.XStart,
		"run.x_end":           c.Region.XEnd,
		"run.x_step":          c.Region.XStep,
		"run.y_start":         c.Region.YStart,
		"run.y_end":           c.Region.YEnd,
		"run.y_step":          c.Region.YStep,
	}
}

func readRayInput(path string) (*rh15d.RayInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rh15d: opening ray input: %v", err)
	}
	defer f.Close()
	return rh15d.ParseRayInput(f)
}

// checkOutputFile makes sure that the output file is specified and its
// directory or bucket exists, and expands any environment variables.
func checkOutputFile(ctx context.Context, name, f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`rh15d: you need to specify the %s configuration variable (for example: %s="output.nc")`, name, name)
	}
	f = os.ExpandEnv(f)
	if cloud.IsBlob(f) {
		if _, err := cloud.Exists(ctx, f); err != nil {
			return f, fmt.Errorf("rh15d: error when checking %s location: %v", name, err)
		}
		return f, nil
	}
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("rh15d: the %s directory doesn't exist: %v", name, err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one isn't
// specified.
func checkLogFile(logFile, outputFile string) string {
	if logFile != "" {
		return logFile
	}
	if cloud.IsBlob(outputFile) {
		outputFile = filepath.Base(outputFile)
	}
	return strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".log"
}
