// Copyright 2021 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tftp

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem is the capability through which the protocol engine performs
// all file access. Implementations are injected into NewProto, which lets
// tests run against in-memory buffers and keeps the path policy layered
// cleanly over the real filesystem.
type FileSystem interface {
	// OpenRead opens the named file for reading and returns its size in
	// bytes, or -1 when the size is unknown.
	OpenRead(name string) (io.ReadCloser, int64, error)

	// CreateNew creates the named file, failing if it already exists.
	// A positive size is a preallocation hint; implementations may
	// ignore it.
	CreateNew(name string, size int64) (io.WriteCloser, error)
}

// OSFileSystem is the default FileSystem backed by the os package.
type OSFileSystem struct{}

func (OSFileSystem) OpenRead(name string) (io.ReadCloser, int64, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, -1, err
	}
	size := int64(-1)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return f, size, nil
}

func (OSFileSystem) CreateNew(name string, size int64) (io.WriteCloser, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		// Preallocation is a hint; a failed truncate is not a transfer
		// error.
		_ = f.Truncate(size)
	}
	return f, nil
}

// Policy restricts what a FileSystem wrapped by it will serve.
type Policy struct {
	// ReadOnly makes every CreateNew fail.
	ReadOnly bool

	// Root, when set, is joined in front of every client-supplied path.
	Root string
}

// policyFS enforces Policy over an underlying FileSystem. Client-supplied
// paths that are absolute or contain a parent-directory component are
// rejected with a permission error regardless of the underlying capability.
type policyFS struct {
	fs     FileSystem
	policy Policy
}

func (p *policyFS) OpenRead(name string) (io.ReadCloser, int64, error) {
	if err := checkPath(name); err != nil {
		return nil, -1, err
	}
	return p.fs.OpenRead(p.join(name))
}

func (p *policyFS) CreateNew(name string, size int64) (io.WriteCloser, error) {
	if p.policy.ReadOnly {
		return nil, &os.PathError{Op: "create", Path: name, Err: os.ErrPermission}
	}
	if err := checkPath(name); err != nil {
		return nil, err
	}
	return p.fs.CreateNew(p.join(name), size)
}

func (p *policyFS) join(name string) string {
	if p.policy.Root == "" {
		return name
	}
	return filepath.Join(p.policy.Root, name)
}

func checkPath(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
		}
	}
	return nil
}
