package calibrate

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/math/f32"
	"touchpanel.dev/affine"
)

var (
	ErrNotStored = errors.New("calibrate: no stored calibration")
	ErrCorrupt   = errors.New("calibrate: corrupt calibration record")
)

// Store persists calibration matrices across restarts.
type Store interface {
	// Load returns the stored matrix of an instance, or ErrNotStored.
	Load(instance int) (f32.Aff3, error)
	Save(instance int, m f32.Aff3) error
}

// FileStore stores one file per instance in a directory.
type FileStore struct {
	Dir string
}

const recordVersion = 1

type record struct {
	Version  int        `cbor:"1,keyasint"`
	Instance int        `cbor:"2,keyasint"`
	Matrix   [6]float32 `cbor:"3,keyasint"`
}

func (s FileStore) path(instance int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("touch%d.cal", instance))
}

func (s FileStore) Load(instance int) (f32.Aff3, error) {
	data, err := os.ReadFile(s.path(instance))
	if errors.Is(err, fs.ErrNotExist) {
		return f32.Aff3{}, ErrNotStored
	}
	if err != nil {
		return f32.Aff3{}, fmt.Errorf("calibrate: %w", err)
	}
	return decode(data, instance)
}

func (s FileStore) Save(instance int, m f32.Aff3) error {
	data, err := encode(instance, m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	path := s.path(instance)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	return nil
}

// encode returns the record digest followed by the record.
func encode(instance int, m f32.Aff3) ([]byte, error) {
	payload, err := cbor.Marshal(record{
		Version:  recordVersion,
		Instance: instance,
		Matrix:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}
	sum := blake2b.Sum256(payload)
	return append(sum[:], payload...), nil
}

func decode(data []byte, instance int) (f32.Aff3, error) {
	if len(data) < blake2b.Size256 {
		return f32.Aff3{}, ErrCorrupt
	}
	digest, payload := data[:blake2b.Size256], data[blake2b.Size256:]
	sum := blake2b.Sum256(payload)
	if !bytes.Equal(digest, sum[:]) {
		return f32.Aff3{}, ErrCorrupt
	}
	var r record
	if err := cbor.Unmarshal(payload, &r); err != nil {
		return f32.Aff3{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if r.Version != recordVersion {
		return f32.Aff3{}, fmt.Errorf("calibrate: unsupported record version %d", r.Version)
	}
	if r.Instance != instance {
		return f32.Aff3{}, fmt.Errorf("%w: record of instance %d", ErrCorrupt, r.Instance)
	}
	if _, ok := affine.Invert(r.Matrix); !ok {
		return f32.Aff3{}, fmt.Errorf("%w: singular matrix", ErrCorrupt)
	}
	return r.Matrix, nil
}
