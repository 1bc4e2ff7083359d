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
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/spatialmodel/rh15d/cloud"
)

type uploader struct {
	// files is a set of file path pairs. The first of each pair
	// is a local file path and the second is a blob storage
	// path where it should be uploaded to.
	files [][2]string
	dir   string
}

// maybeUpload checks whether the given output file path refers to
// a blob storage location. If it does, then a temporary file location
// is returned. The file will then be uploaded to blob storage when
// the upload method is run. If fetch is true, the current contents
// of the blob, if any, are first downloaded to the temporary location.
func (u *uploader) maybeUpload(ctx context.Context, path string, fetch bool) (string, error) {
	if !cloud.IsBlob(path) {
		return path, nil
	}
	if u.dir == "" {
		var err error
		if u.dir, err = ioutil.TempDir("", "rh15d"); err != nil {
			return "", fmt.Errorf("rh15d: creating temporary output directory: %v", err)
		}
	}
	local := filepath.Join(u.dir, fmt.Sprintf("%d_%s", len(u.files), filepath.Base(path)))
	if fetch {
		if err := cloud.Download(ctx, path, local); err != nil && !cloud.IsNotExist(err) {
			return "", err
		}
	}
	u.files = append(u.files, [2]string{local, path})
	return local, nil
}

// upload copies the staged output files to blob storage.
func (u *uploader) upload(ctx context.Context) error {
	for _, files := range u.files {
		if err := cloud.Upload(ctx, files[0], files[1]); err != nil {
			return fmt.Errorf("rh15d: uploading output: %v", err)
		}
	}
	return nil
}

// cleanup removes the staged files.
func (u *uploader) cleanup() {
	if u.dir != "" {
		os.RemoveAll(u.dir)
	}
}
