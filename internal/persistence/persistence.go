// SPDX-License-Identifier: MIT

// Package persistence manages the on-disk task artifacts under the upload
// root: one directory per task id holding the source media, extracted
// frames, and the JSON results. Everything is plain JSON on purpose so
// operators and the frontend can read artifacts without this daemon.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/copernicusai/copernicus/internal/fsutil"
	"github.com/copernicusai/copernicus/internal/log"
)

// Artifact filenames inside a task directory.
const (
	MetaFile         = "meta.json"
	TranscriptFile   = "transcript.json"
	EvaluationFile   = "evaluation.json"
	ComplianceFile   = "compliance.json"
	KeyframesFile    = "keyframes.json"
	OCRResultsFile   = "ocr_results.json"
	VisualEventsFile = "visual_events.json"
	ExtractedWAVFile = "extracted.wav"
	framesDirName    = "frames"
)

// ErrNotFound is returned when a task artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Meta describes the uploaded source of a task.
type Meta struct {
	Filename    string    `json:"filename"`
	Hash        string    `json:"hash"`
	AudioSuffix string    `json:"audio_suffix"`
	MediaType   string    `json:"media_type"` // "audio" | "video"
	VideoSuffix string    `json:"video_suffix,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store reads and writes task artifacts under one upload root.
type Store struct {
	root   string
	logger zerolog.Logger
}

func New(root string) (*Store, error) {
	if err := fsutil.EnsureDir(root); err != nil {
		return nil, err
	}
	return &Store{root: root, logger: log.WithComponent("persistence")}, nil
}

// Root returns the upload root directory.
func (s *Store) Root() string { return s.root }

// TaskDir returns the task's directory, creating it if needed. The task id
// is confined to the root so API-supplied ids cannot escape it.
func (s *Store) TaskDir(taskID string) (string, error) {
	dir, err := fsutil.ConfineRelPath(s.root, taskID)
	if err != nil {
		return "", fmt.Errorf("bad task id %q: %w", taskID, err)
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// FramesDir returns the task's keyframe directory, creating it if needed.
func (s *Store) FramesDir(taskID string) (string, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return "", err
	}
	frames := filepath.Join(dir, framesDirName)
	if err := fsutil.EnsureDir(frames); err != nil {
		return "", err
	}
	return frames, nil
}

// SaveJSON marshals v and writes it atomically into the task directory.
func (s *Store) SaveJSON(taskID, filename string, v any) error {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filename, err)
	}
	if err := fsutil.WriteAtomic(filepath.Join(dir, filename), data); err != nil {
		return err
	}
	s.logger.Info().
		Str(log.FieldTaskID, taskID).
		Str(log.FieldPath, filename).
		Int(log.FieldBytes, len(data)).
		Msg("artifact persisted")
	return nil
}

// LoadJSON decodes a task artifact into out. Missing files return
// ErrNotFound; unreadable files return the underlying error.
func (s *Store) LoadJSON(taskID, filename string, out any) error {
	path, err := s.artifactPath(taskID, filename)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, taskID, filename)
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s/%s: %w", taskID, filename, err)
	}
	return nil
}

// HasFile reports whether a task artifact exists.
func (s *Store) HasFile(taskID, filename string) bool {
	path, err := s.artifactPath(taskID, filename)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// DeleteArtifact removes one artifact; missing files are not an error.
func (s *Store) DeleteArtifact(taskID, filename string) error {
	path, err := s.artifactPath(taskID, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	s.logger.Info().
		Str(log.FieldTaskID, taskID).
		Str(log.FieldPath, filename).
		Msg("artifact deleted")
	return nil
}

// SaveMeta writes meta.json, stamping CreatedAt when unset.
func (s *Store) SaveMeta(taskID string, meta Meta) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	if meta.MediaType == "" {
		meta.MediaType = "audio"
	}
	return s.SaveJSON(taskID, MetaFile, meta)
}

// LoadMeta reads meta.json.
func (s *Store) LoadMeta(taskID string) (Meta, error) {
	var meta Meta
	err := s.LoadJSON(taskID, MetaFile, &meta)
	return meta, err
}

// SaveMedia writes the uploaded bytes as audio.<suffix> or video.<suffix>
// and returns the absolute path.
func (s *Store) SaveMedia(taskID string, data []byte, kind, suffix string) (string, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, kind+suffix)
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306
		return "", err
	}
	s.logger.Info().
		Str(log.FieldTaskID, taskID).
		Str(log.FieldPath, path).
		Int(log.FieldBytes, len(data)).
		Msg("media saved")
	return path, nil
}

// FindAudio returns the task's audio.* path, or "" when absent.
func (s *Store) FindAudio(taskID string) string {
	return s.findMedia(taskID, "audio.*")
}

// FindVideo returns the task's video.* path, or "" when absent.
func (s *Store) FindVideo(taskID string) string {
	return s.findMedia(taskID, "video.*")
}

func (s *Store) findMedia(taskID, pattern string) string {
	dir, err := fsutil.ConfineRelPath(s.root, taskID)
	if err != nil {
		return ""
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

func (s *Store) artifactPath(taskID, filename string) (string, error) {
	// single confinement over the joined relative path; the task directory
	// may not exist yet
	path, err := fsutil.ConfineRelPath(s.root, filepath.Join(taskID, filename))
	if err != nil {
		return "", fmt.Errorf("bad artifact ref %s/%s: %w", taskID, filename, err)
	}
	return path, nil
}
