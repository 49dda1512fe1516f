// Package storage is the artifact store behind the opaque path references
// threaded between pipeline stages. The orchestration core never interprets
// artifact contents; it only saves uploads, hands paths to workers, and
// removes a job's directory on delete.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store is the blob-store abstraction used by both tiers.
type Store interface {
	// Save writes the content under the job's directory and returns the
	// artifact reference for it.
	Save(jobID, filename string, r io.Reader) (string, error)
	// Open opens an artifact by reference.
	Open(ref string) (io.ReadCloser, error)
	// Path resolves where an artifact for the job would live.
	Path(jobID, filename string) string
	// RemoveJob deletes every artifact belonging to the job.
	RemoveJob(jobID string) error
}

// LocalStore keeps artifacts on local disk, one directory per job id.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Save(jobID, filename string, r io.Reader) (string, error) {
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}

	// Strip any path components from client-supplied names.
	path := filepath.Join(dir, filepath.Base(filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

func (s *LocalStore) Open(ref string) (io.ReadCloser, error) {
	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Path(jobID, filename string) string {
	return filepath.Join(s.root, jobID, filepath.Base(filename))
}

func (s *LocalStore) RemoveJob(jobID string) error {
	if jobID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.root, jobID))
}
