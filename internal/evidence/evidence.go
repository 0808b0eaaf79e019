// Package evidence validates photo batches and stores them all-or-nothing.
package evidence

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/blob"
	"github.com/spec-kit/workorder-service/internal/config"
	"github.com/spec-kit/workorder-service/internal/domain"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// Stage names the lifecycle step a batch of evidence belongs to.
type Stage string

const (
	StageAttachments Stage = "attachments"
	StageBefore      Stage = "before"
	StageProgress    Stage = "progress"
	StageAfter       Stage = "after"
)

// Directory is where a stage's files live for one work order.
func Directory(workOrderID string, stage Stage) string {
	return path.Join("work-orders", workOrderID, string(stage))
}

// Policy bounds the number, size and type of files accepted per call.
type Policy struct {
	MaxFiles     int
	MaxFileBytes int64
	AllowedTypes []string
}

// DefaultPolicy accepts up to five JPEG or PNG files of at most 5 MB each.
func DefaultPolicy() Policy {
	return Policy{MaxFiles: 5, MaxFileBytes: 5 << 20, AllowedTypes: []string{"image/jpeg", "image/png"}}
}

func PolicyFromConfig(cfg config.EvidenceConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxFiles > 0 {
		p.MaxFiles = cfg.MaxFiles
	}
	if cfg.MaxFileBytes > 0 {
		p.MaxFileBytes = cfg.MaxFileBytes
	}
	if len(cfg.AllowedTypes) > 0 {
		p.AllowedTypes = cfg.AllowedTypes
	}
	return p
}

// Validate rejects the whole batch on the first violation.
func (p Policy) Validate(files []domain.PhotoUpload) error {
	if len(files) > p.MaxFiles {
		return apperrors.NewValidationError(
			fmt.Sprintf("at most %d files per upload", p.MaxFiles),
			map[string]any{"count": len(files), "max": p.MaxFiles})
	}
	for i, f := range files {
		if err := p.validateFile(i, f); err != nil {
			return err
		}
	}
	return nil
}

func (p Policy) validateFile(index int, f domain.PhotoUpload) error {
	details := map[string]any{"index": index, "file_name": f.FileName}
	if f.Size() == 0 {
		return apperrors.NewValidationError("file is empty", details)
	}
	if f.Size() > p.MaxFileBytes {
		details["size"] = f.Size()
		details["max_size"] = p.MaxFileBytes
		return apperrors.NewValidationError("file exceeds size limit", details)
	}

	declared := mediaType(f.ContentType)
	if !p.allowed(declared) {
		details["content_type"] = f.ContentType
		return apperrors.NewValidationError("file type not allowed", details)
	}
	sniffed := mimetype.Detect(f.Data)
	if !sniffed.Is(declared) {
		details["content_type"] = f.ContentType
		details["detected_type"] = sniffed.String()
		return apperrors.NewValidationError("file content does not match its declared type", details)
	}
	return nil
}

func (p Policy) allowed(mediaType string) bool {
	return slices.ContainsFunc(p.AllowedTypes, func(t string) bool { return strings.EqualFold(t, mediaType) })
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Keeper validates and persists evidence through a blob store.
type Keeper struct {
	policy Policy
	store  blob.Store
	logger *zap.Logger
}

func NewKeeper(policy Policy, store blob.Store, logger *zap.Logger) *Keeper {
	return &Keeper{policy: policy, store: store, logger: logger}
}

// Validate checks files without storing anything.
func (k *Keeper) Validate(files []domain.PhotoUpload) error {
	return k.policy.Validate(files)
}

// Store writes every file of an already validated batch, returning the paths in
// input order. If any write fails the files written by this call are removed.
func (k *Keeper) Store(ctx context.Context, workOrderID string, stage Stage, files []domain.PhotoUpload) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	dir := Directory(workOrderID, stage)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		p, err := k.store.Store(ctx, f, dir)
		if err != nil {
			k.Discard(ctx, paths)
			return nil, fmt.Errorf("store %s evidence: %w", stage, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Discard deletes stored files best-effort; failures are only logged.
func (k *Keeper) Discard(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := k.store.Delete(context.WithoutCancel(ctx), p); err != nil {
			k.logger.Warn("failed to delete orphaned evidence", zap.String("path", p), zap.Error(err))
		}
	}
}
