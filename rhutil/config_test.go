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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/kr/pretty"
	"github.com/spatialmodel/rh15d"
)

func loadTestConfig(t *testing.T) *Config {
	t.Helper()
	Cfg.Set("config", "testdata/config.toml")
	if err := setConfig(); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(context.Background(), Cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLoadConfig(t *testing.T) {
	c := loadTestConfig(t)
	want := rh15d.Region{XStart: 1, XEnd: 0, XStep: 2, YStart: 0, YEnd: 0, YStep: 1}
	if c.Region != want {
		t.Errorf("region: %s", pretty.Diff(c.Region, want))
	}
	wantParams := rh15d.Params{
		NMaxIter:           300,
		IterLimit:          1e-3,
		NMaxScatter:        2,
		CheckpointInterval: 2,
		Ray:                &rh15d.RayInput{Mu: 1, Wavelengths: []int{10, 50}},
	}
	if diff := pretty.Diff(*c.Params, wantParams); len(diff) > 0 {
		t.Errorf("params: %v", diff)
	}
	if c.NumWorkers != 3 || c.MaxIterCap != 500 {
		t.Errorf("workers=%d, history=%d", c.NumWorkers, c.MaxIterCap)
	}
	// Values missing from the file keep their defaults.
	if c.Lambda.NWavelength != 61 || c.Lambda.LineCenter != 656.28 || c.Lambda.MaxTemperature != 5e4 {
		t.Errorf("lambda: %# v", pretty.Formatter(c.Lambda))
	}
	if c.LogFile != "testdata/output_aux.log" {
		t.Errorf("log file %s", c.LogFile)
	}
}

func TestConfig_validate(t *testing.T) {
	for _, test := range []struct {
		name   string
		modify func(c *Config)
		msg    string
	}{
		{
			name:   "history",
			modify: func(c *Config) { c.MaxIterCap = 100 },
			msg:    "MaxIterCap",
		},
		{
			name:   "skip",
			modify: func(c *Config) { c.SkipConverged = true },
			msg:    "SkipConverged",
		},
		{
			name:   "workers",
			modify: func(c *Config) { c.NumWorkers = 0 },
			msg:    "NumWorkers",
		},
		{
			name:   "wavelength",
			modify: func(c *Config) { c.Params.Ray.Wavelengths = []int{61} },
			msg:    "wavelength index 61",
		},
		{
			name:   "limit",
			modify: func(c *Config) { c.Params.IterLimit = 0 },
			msg:    "IterLimit",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := loadTestConfig(t)
			test.modify(c)
			err := c.validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), test.msg) {
				t.Errorf("error %q should mention %s", err, test.msg)
			}
		})
	}
}

func TestConfig_Hash(t *testing.T) {
	a := loadTestConfig(t)
	b := loadTestConfig(t)
	if a.Hash() != b.Hash() {
		t.Error("equal configurations should have equal hashes")
	}
	b.Params.NMaxIter++
	if a.Hash() == b.Hash() {
		t.Error("hash should depend on NMaxIter")
	}
}

func TestCheckLogFile(t *testing.T) {
	for _, test := range []struct{ log, out, want string }{
		{"", "out/output_aux.nc", "out/output_aux.log"},
		{"run.log", "out/output_aux.nc", "run.log"},
		{"", "s3://bucket/run/output_aux.nc", "output_aux.log"},
	} {
		if got := checkLogFile(test.log, test.out); got != test.want {
			t.Errorf("checkLogFile(%q, %q) = %q, want %q", test.log, test.out, got, test.want)
		}
	}
}

func TestConfigCommand(t *testing.T) {
	var b bytes.Buffer
	Root.SetOutput(&b)
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"config", "--config=testdata/config.toml"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	var cfg struct {
		NMaxIter   int
		IterLimit  float64
		NumWorkers int
		Grid       struct{ XStart, XStep int }
		Lambda     struct{ NWavelength int }
	}
	if _, err := toml.Decode(b.String(), &cfg); err != nil {
		t.Fatalf("%v\n%s", err, b.String())
	}
	if cfg.NMaxIter != 300 || cfg.IterLimit != 1e-3 || cfg.NumWorkers != 3 ||
		cfg.Grid.XStart != 1 || cfg.Grid.XStep != 2 || cfg.Lambda.NWavelength != 61 {
		t.Errorf("configuration: %+v", cfg)
	}
}

func TestVersionCommand(t *testing.T) {
	var b bytes.Buffer
	Root.SetOutput(&b)
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"version"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if want := "rh15d v" + rh15d.Version + "\n"; b.String() != want {
		t.Errorf("have %q, want %q", b.String(), want)
	}
}
