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
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spatialmodel/rh15d/cloud"
)

// maybeDownload checks if the input is an existing file locally.
// If not, it checks if the file is a URL or a blob storage path.
// If it is, it downloads the file and returns the path to the
// downloaded file.
func maybeDownload(ctx context.Context, path string) (string, error) {
	// Check if local file exists. If it does, return the given path.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return path, nil
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return downloadHTTP(ctx, path)
	}
	if cloud.IsBlob(path) {
		return downloadBlob(ctx, path)
	}
	return path, nil
}

// downloadHTTP downloads a file from the specified URL and returns
// the path to the downloaded file.
func downloadHTTP(ctx context.Context, path string) (string, error) {
	dir, err := ioutil.TempDir("", "rh15d")
	if err != nil {
		return "", fmt.Errorf("rh15d: failed creating temporary download directory: %v", err)
	}
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("rh15d: downloading %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("rh15d: downloading %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rh15d: downloading %s: %s", path, resp.Status)
	}
	fname := filepath.Join(dir, filepath.Base(req.URL.Path))
	w, err := os.Create(fname)
	if err != nil {
		return "", fmt.Errorf("rh15d: failed creating file for download: %v", err)
	}
	if _, err = io.Copy(w, resp.Body); err != nil {
		w.Close()
		return "", fmt.Errorf("rh15d: downloading %s: %v", path, err)
	}
	return fname, w.Close()
}

// downloadBlob downloads the specified file from blob storage.
func downloadBlob(ctx context.Context, path string) (string, error) {
	dir, err := ioutil.TempDir("", "rh15d")
	if err != nil {
		return "", fmt.Errorf("rh15d: failed creating temporary download directory: %v", err)
	}
	fname := filepath.Join(dir, filepath.Base(path))
	if err := cloud.Download(ctx, path, fname); err != nil {
		return "", err
	}
	return fname, nil
}
