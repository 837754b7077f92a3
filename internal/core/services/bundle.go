package services

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

// Bundle writes every current asset of the batch into w as a zip archive,
// in job order. Media is already compressed, so entries are stored as is.
func (s *Studio) Bundle(ctx context.Context, batchID domain.BatchID, w io.Writer) error {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return err
	}
	assets, err := s.repo.ListBatchAssets(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}

	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(assets))
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addToZip(zw, uniqueName(a.Filename, seen), a); err != nil {
			return fmt.Errorf("failed to bundle %s: %w", a.Filename, err)
		}
	}
	return zw.Close()
}

func addToZip(zw *zip.Writer, name string, a domain.Asset) error {
	f, err := os.Open(a.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: a.CreatedAt,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}

// uniqueName suffixes repeated names: clip.mp4, clip-2.mp4, ...
func uniqueName(name string, seen map[string]int) string {
	seen[name]++
	n := seen[name]
	if n == 1 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}
