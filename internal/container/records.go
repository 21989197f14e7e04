package container

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	recordFile     = "image.json"
	dockerfileName = "Dockerfile"
)

// Record names the derived image built for one unit.
type Record struct {
	Name      string `json:"name"`
	BaseImage string `json:"base_image"`
}

// RecordStore persists the derived image record and its Dockerfile in Dir.
type RecordStore struct {
	Dir string
}

// StoreFor returns the store of a unit below root: .clickable/<build arch>
// for the app and .clickable/<build arch>/<name> for a library.
func StoreFor(root, buildArch, unit string) *RecordStore {
	return &RecordStore{Dir: filepath.Join(root, ".clickable", buildArch, unit)}
}

// Load returns the stored record, or nil if there is none.
func (s *RecordStore) Load() (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, recordFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode %s: %w", recordFile, err)
	}
	if record.Name == "" {
		return nil, fmt.Errorf("%s names no image", recordFile)
	}
	return &record, nil
}

// Save writes record, creating Dir as needed.
func (s *RecordStore) Save(record Record) error {
	if s.Dir == "" {
		return errors.New("record directory is not configured")
	}
	if record.Name == "" {
		return errors.New("image name is required")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, recordFile), payload, 0o644)
}

// Dockerfile returns the stored Dockerfile, or "" if there is none.
func (s *RecordStore) Dockerfile() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, dockerfileName))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}

func (s *RecordStore) WriteDockerfile(content string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, dockerfileName), []byte(strings.TrimSpace(content)+"\n"), 0o644)
}

// Remove deletes Dir and everything below it.
func (s *RecordStore) Remove() error {
	return os.RemoveAll(s.Dir)
}

// Lock takes an exclusive advisory lock for the unit. The lock file lives
// next to Dir so that Remove does not drop it.
func (s *RecordStore) Lock() (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(s.Dir), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(filepath.Clean(s.Dir)+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("lock %s: %w", s.Dir, err)
	}
	return func() error {
		defer file.Close()
		return unix.Flock(int(file.Fd()), unix.LOCK_UN)
	}, nil
}
