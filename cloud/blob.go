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

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Exists returns whether the blob at path exists.
func Exists(ctx context.Context, path string) (bool, error) {
	bucket, key, err := open(ctx, path)
	if err != nil {
		return false, err
	}
	defer bucket.Close()
	ok, err := bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cloud: checking blob %s: %v", path, err)
	}
	return ok, nil
}

// Download copies the blob at path to the local file dst.
// The returned error satisfies IsNotExist if the blob does not exist.
func Download(ctx context.Context, path, dst string) error {
	bucket, key, err := open(ctx, path)
	if err != nil {
		return err
	}
	defer bucket.Close()
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return &blobError{path: path, op: "reading", err: err}
	}
	defer r.Close()
	w, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("cloud: creating download file: %v", err)
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return &blobError{path: path, op: "reading", err: err}
	}
	return w.Close()
}

// Upload copies the local file src to the blob at path.
func Upload(ctx context.Context, src, path string) error {
	bucket, key, err := open(ctx, path)
	if err != nil {
		return err
	}
	defer bucket.Close()
	r, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cloud: opening file '%s' for upload: %v", src, err)
	}
	defer r.Close()
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return &blobError{path: path, op: "creating writer for", err: err}
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return &blobError{path: path, op: "copying", err: err}
	}
	if err = w.Close(); err != nil {
		return &blobError{path: path, op: "writing", err: err}
	}
	return nil
}

// IsNotExist returns whether err reports a missing blob.
func IsNotExist(err error) bool {
	if e, ok := err.(*blobError); ok {
		err = e.err
	}
	return gcerrors.Code(err) == gcerrors.NotFound
}

type blobError struct {
	path, op string
	err      error
}

func (e *blobError) Error() string {
	return fmt.Sprintf("cloud: %s blob %s: %v", e.op, e.path, e.err)
}

func open(ctx context.Context, path string) (*blob.Bucket, string, error) {
	name, key, err := splitBlob(path)
	if err != nil {
		return nil, "", err
	}
	bucket, err := OpenBucket(ctx, name)
	if err != nil {
		return nil, "", err
	}
	return bucket, key, nil
}
