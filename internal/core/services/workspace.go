package services

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

// WorkspaceManager owns the on-disk layout:
//
//	{base}/uploads/{session}/{slot}{ext}   user inputs
//	{base}/batches/{batch}/{filename}      generated assets
type WorkspaceManager struct {
	baseDir string
}

func NewWorkspaceManager(baseDir string) *WorkspaceManager {
	return &WorkspaceManager{baseDir: baseDir}
}

func (s *WorkspaceManager) BaseDir() string {
	return s.baseDir
}

// SaveUpload stores an input image for a session slot, replacing any earlier
// upload in that slot.
func (s *WorkspaceManager) SaveUpload(sessionID domain.SessionID, slot domain.UploadSlot, mimeType string, data []byte) (domain.Upload, error) {
	dir, err := s.ensureDir(filepath.Join(s.baseDir, "uploads", safeName(string(sessionID))))
	if err != nil {
		return domain.Upload{}, err
	}

	filename := string(slot) + domain.Extension(mimeType, domain.MediaKindImage)
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.Upload{}, fmt.Errorf("failed to write upload: %w", err)
	}

	// An earlier upload with another image type has a different extension.
	previous, err := filepath.Glob(filepath.Join(dir, string(slot)+".*"))
	if err != nil {
		return domain.Upload{}, fmt.Errorf("failed to list previous uploads: %w", err)
	}
	for _, old := range previous {
		if old == path {
			continue
		}
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return domain.Upload{}, fmt.Errorf("failed to remove previous upload: %w", err)
		}
	}

	return domain.Upload{
		Slot:      slot,
		Filename:  filename,
		FilePath:  path,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
	}, nil
}

// BatchDir returns the asset directory of a batch, creating it on demand.
func (s *WorkspaceManager) BatchDir(batchID domain.BatchID) (string, error) {
	return s.ensureDir(filepath.Join(s.baseDir, "batches", safeName(string(batchID))))
}

// WriteAsset stores generated bytes as filename inside the batch directory
// and returns the full path.
func (s *WorkspaceManager) WriteAsset(batchID domain.BatchID, filename string, data []byte) (string, error) {
	dir, err := s.BatchDir(batchID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, safeName(filename))

	// Write to a temp file first so a reader never sees a partial asset.
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move asset into place: %w", err)
	}
	return path, nil
}

// LoadMedia reads a workspace file back as backend input.
func (s *WorkspaceManager) LoadMedia(path string) (domain.MediaFile, error) {
	if !s.contains(path) {
		return domain.MediaFile{}, fmt.Errorf("path %q is outside the workspace", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.MediaFile{}, fmt.Errorf("failed to read input: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return domain.MediaFile{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	}, nil
}

// Remove deletes a workspace file. Missing files are not an error.
func (s *WorkspaceManager) Remove(path string) error {
	if !s.contains(path) {
		return fmt.Errorf("path %q is outside the workspace", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *WorkspaceManager) contains(path string) bool {
	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *WorkspaceManager) ensureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return path, nil
}

// safeName keeps a single path element free of separators and dot-dot.
func safeName(name string) string {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return "_"
	}
	return name
}
