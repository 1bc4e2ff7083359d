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

// Command rh15d solves radiative transfer column by column in a 3-D
// model atmosphere.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/rh15d/rhutil"
)

func main() {
	if err := rhutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
