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

// Package rhutil contains the command-line interface and the run wiring
// of rh15d.
package rhutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/rh15d"
	"github.com/spatialmodel/rh15d/science/lambda"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

type option struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

var options []option

func init() {
	lc := lambda.DefaultConfig()
	run := []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()}

	// Options are the configuration options available to rh15d.
	options = []option{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "AtmosFile",
			usage: `
              AtmosFile is the path to the input atmosphere. It can be a
              local file, an http(s) URL, or a blob storage path
              (gs://, s3://, file://).`,
			defaultVal: "",
			flagsets:   run,
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path to the checkpoint file holding the
              per-column results. Blob storage paths are written locally
              and uploaded at the end of the run.`,
			shorthand:  "o",
			defaultVal: "output_aux.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags(), convergenceCmd.Flags()},
		},
		{
			name: "RayOutputFile",
			usage: `
              RayOutputFile is the path to the file holding the emergent
              spectra of converged columns.`,
			defaultVal: "output_ray.nc",
			flagsets:   run,
		},
		{
			name: "RayInputFile",
			usage: `
              RayInputFile is the path to the ray input file, which holds
              the direction cosine mu followed by the number of selected
              wavelengths and their indices.`,
			defaultVal: "ray.input",
			flagsets:   run,
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. If it
              is not specified, the log file is written next to
              OutputFile with the extension '.log'.`,
			defaultVal: "",
			flagsets:   run,
		},
		{
			name: "NumWorkers",
			usage: `
              NumWorkers is the number of workers that columns are
              distributed over.`,
			shorthand:  "n",
			defaultVal: runtime.NumCPU(),
			flagsets:   run,
		},
		{
			name: "Resume",
			usage: `
              Resume specifies whether to continue writing into existing
              output files instead of creating new ones.`,
			defaultVal: false,
			flagsets:   run,
		},
		{
			name: "Overwrite",
			usage: `
              Overwrite allows existing output files to be replaced when
              Resume is false.`,
			defaultVal: false,
			flagsets:   run,
		},
		{
			name: "SkipConverged",
			usage: `
              SkipConverged specifies whether, when resuming, columns that
              already converged in the existing output are skipped.`,
			defaultVal: false,
			flagsets:   run,
		},
		{
			name: "CheckpointInterval",
			usage: `
              CheckpointInterval is the number of finished columns after
              which each worker writes its task records to OutputFile.`,
			defaultVal: 1,
			flagsets:   run,
		},
		{
			name: "Grid.XStart",
			usage: `
              Grid.XStart is the first atmosphere x index to compute.`,
			defaultVal: 0,
			flagsets:   run,
		},
		{
			name: "Grid.XEnd",
			usage: `
              Grid.XEnd is the atmosphere x index (exclusive) to stop at.
              Values <= 0 select up to the end of the atmosphere.`,
			defaultVal: 0,
			flagsets:   run,
		},
		{
			name: "Grid.XStep",
			usage: `
              Grid.XStep is the stride in the x direction.`,
			defaultVal: 1,
			flagsets:   run,
		},
		{
			name: "Grid.YStart",
			usage: `
              Grid.YStart is the first atmosphere y index to compute.`,
			defaultVal: 0,
			flagsets:   run,
		},
		{
			name: "Grid.YEnd",
			usage: `
              Grid.YEnd is the atmosphere y index (exclusive) to stop at.
              Values <= 0 select up to the end of the atmosphere.`,
			defaultVal: 0,
			flagsets:   run,
		},
		{
			name: "Grid.YStep",
			usage: `
              Grid.YStep is the stride in the y direction.`,
			defaultVal: 1,
			flagsets:   run,
		},
		{
			name: "NMaxIter",
			usage: `
              NMaxIter is the maximum number of main iterations per column.`,
			defaultVal: 200,
			flagsets:   run,
		},
		{
			name: "IterLimit",
			usage: `
              IterLimit is the convergence limit on the maximum relative
              change of the source function.`,
			defaultVal: 1e-3,
			flagsets:   run,
		},
		{
			name: "NMaxScatter",
			usage: `
              NMaxScatter is the maximum number of scattering iterations
              performed for converged columns before the emergent spectrum
              is computed.`,
			defaultVal: 3,
			flagsets:   run,
		},
		{
			name: "MaxIterCap",
			usage: `
              MaxIterCap is the length of the iteration history stored for
              each column. It must not be smaller than NMaxIter and must
              stay the same when resuming.`,
			defaultVal: 1500,
			flagsets:   run,
		},
		{
			name: "Lambda.LineCenter",
			usage: `
              Lambda.LineCenter is the line center wavelength [nm].`,
			defaultVal: lc.LineCenter,
			flagsets:   run,
		},
		{
			name: "Lambda.NWavelength",
			usage: `
              Lambda.NWavelength is the number of points in the wavelength grid.`,
			defaultVal: lc.NWavelength,
			flagsets:   run,
		},
		{
			name: "Lambda.HalfWidth",
			usage: `
              Lambda.HalfWidth is the half width of the wavelength grid [nm].`,
			defaultVal: lc.HalfWidth,
			flagsets:   run,
		},
		{
			name: "Lambda.Epsilon",
			usage: `
              Lambda.Epsilon is the photon destruction probability.`,
			defaultVal: lc.Epsilon,
			flagsets:   run,
		},
		{
			name: "Lambda.LineRatio",
			usage: `
              Lambda.LineRatio is the ratio of line center to continuum opacity.`,
			defaultVal: lc.LineRatio,
			flagsets:   run,
		},
		{
			name: "Lambda.ContinuumOpacity",
			usage: `
              Lambda.ContinuumOpacity is the continuum opacity at zero height [m-1].`,
			defaultVal: lc.ContinuumOpacity,
			flagsets:   run,
		},
		{
			name: "Lambda.OpacityScaleHeight",
			usage: `
              Lambda.OpacityScaleHeight is the scale height of the opacity [m].`,
			defaultVal: lc.OpacityScaleHeight,
			flagsets:   run,
		},
		{
			name: "Lambda.AtomicMass",
			usage: `
              Lambda.AtomicMass is the mass of the absorber [amu].`,
			defaultVal: lc.AtomicMass,
			flagsets:   run,
		},
		{
			name: "Lambda.Microturbulence",
			usage: `
              Lambda.Microturbulence is the microturbulent velocity [m/s].`,
			defaultVal: lc.Microturbulence,
			flagsets:   run,
		},
		{
			name: "Lambda.NMu",
			usage: `
              Lambda.NMu is the number of angle quadrature points.`,
			defaultVal: lc.NMu,
			flagsets:   run,
		},
		{
			name: "Lambda.MaxTemperature",
			usage: `
              Lambda.MaxTemperature is the temperature [K] above which the
              top of each column is cut off.`,
			defaultVal: lc.MaxTemperature,
			flagsets:   run,
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("RH15D")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
			case int:
				set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(convergenceCmd)
	Root.AddCommand(configCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("rh15d: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "rh15d",
	Short: "Column-by-column radiative transfer.",
	Long: `rh15d solves the radiative transfer problem independently in every
column of a 3-D atmosphere, distributing the columns over a pool of workers
and recording the results in a checkpoint that later runs can resume into.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'RH15D_var' where 'var' is the
name of the variable to be set, with '.' replaced by '_'. File paths are
allowed to contain environment variables within them.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of rh15d.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("rh15d v%s\n", rh15d.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Solve all columns.",
	Long: `run solves every selected column of the atmosphere in AtmosFile and
writes the results to OutputFile and RayOutputFile. Columns whose solution
crashes are skipped and reported; they do not stop the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(context.Background(), Cfg)
		if err != nil {
			return err
		}
		logfile, err := os.Create(c.LogFile)
		if err != nil {
			return fmt.Errorf("rh15d: problem creating log file: %v", err)
		}
		defer logfile.Close()
		log := newLogger(cmd.OutOrStdout(), logfile)
		_, err = Run(context.Background(), c, log)
		return err
	},
	DisableAutoGenTag: true,
}

var convergenceCmd = &cobra.Command{
	Use:   "convergence",
	Short: "Summarize the convergence of an output file.",
	Long: `convergence reads the task records in OutputFile and prints the
number of columns that converged, did not converge, crashed, or have not
been computed yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := Convergence(context.Background(), os.ExpandEnv(Cfg.GetString("OutputFile")))
		if err != nil {
			return err
		}
		cmd.Println(s)
		return nil
	},
	DisableAutoGenTag: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration.",
	Long: `config prints the configuration that a run would use, in TOML format,
after combining defaults, the configuration file, environment variables,
and command-line arguments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfig(cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}

// settings returns the current value of every option except "config",
// with dotted names nested into tables.
func settings() map[string]interface{} {
	o := make(map[string]interface{})
	for _, option := range options {
		if option.name == "config" {
			continue
		}
		m := o
		parts := strings.Split(option.name, ".")
		for _, p := range parts[:len(parts)-1] {
			sub, ok := m[p].(map[string]interface{})
			if !ok {
				sub = make(map[string]interface{})
				m[p] = sub
			}
			m = sub
		}
		v := Cfg.Get(option.name)
		// Values from flags that were not set elsewhere are strings.
		switch option.defaultVal.(type) {
		case int:
			v = cast.ToInt(v)
		case float64:
			v = cast.ToFloat64(v)
		case bool:
			v = cast.ToBool(v)
		}
		m[parts[len(parts)-1]] = v
	}
	return o
}

// newLogger returns a logger writing to all of w.
func newLogger(w ...io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.MultiWriter(w...))
	return log
}

func writeConfig(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(settings()); err != nil {
		return fmt.Errorf("rh15d: writing configuration: %v", err)
	}
	return nil
}
