// Package storage keeps uploaded attachments on a filesystem.
package storage

import (
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var ErrTooLarge = errors.New("storage: file exceeds size limit")

type Disk struct {
	fs             afero.Fs
	maxBytes       int64
	largeThreshold int64
	log            *logrus.Logger
}

// NewDisk stores files below root on the local filesystem.
func NewDisk(root string, maxBytes, largeThreshold int64, log *logrus.Logger) *Disk {
	return New(afero.NewBasePathFs(afero.NewOsFs(), root), maxBytes, largeThreshold, log)
}

func New(fs afero.Fs, maxBytes, largeThreshold int64, log *logrus.Logger) *Disk {
	return &Disk{fs: fs, maxBytes: maxBytes, largeThreshold: largeThreshold, log: log}
}

// Put writes r to a new uniquely named file in dir and returns its relative
// path, e.g. "voice_notes/2f1c...e9.ogg". Files over the size limit are
// removed and ErrTooLarge returned.
func (d *Disk) Put(dir, ext string, r io.Reader) (string, error) {
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "storage: mkdir")
	}
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := path.Join(dir, uuid.NewString()+ext)

	f, err := d.fs.Create(name)
	if err != nil {
		return "", errors.Wrap(err, "storage: create")
	}
	n, err := io.Copy(f, io.LimitReader(r, d.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		d.fs.Remove(name)
		return "", errors.Wrap(err, "storage: write")
	}
	if n > d.maxBytes {
		d.fs.Remove(name)
		return "", ErrTooLarge
	}

	if d.largeThreshold > 0 && n > d.largeThreshold {
		d.log.WithFields(logrus.Fields{"size": n, "path": name}).Info("large voice note detected")
	}
	return name, nil
}

// Delete removes path; a missing file is not an error.
func (d *Disk) Delete(p string) error {
	err := d.fs.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "storage: delete")
	}
	return nil
}

func (d *Disk) Exists(p string) (bool, error) {
	return afero.Exists(d.fs, p)
}

// Open is used to serve stored files back to clients.
func (d *Disk) Open(p string) (afero.File, error) {
	return d.fs.Open(p)
}
