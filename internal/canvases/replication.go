package canvases

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opClaimUnowned = "canvases.claim_unowned"
	opExport       = "canvases.export"
	opImport       = "canvases.import"
	fieldOwner     = "owner"
)

var errMissingOwner = errors.New("owner is required")

// CanvasSnapshot is the replication unit exchanged with the sync collaborator.
type CanvasSnapshot struct {
	Canvas   Canvas          `json:"canvas"`
	Elements []ElementRecord `json:"elements"`
}

// ClaimUnowned assigns the owner to every canvas that has none and returns
// how many canvases were claimed.
func (r *Repository) ClaimUnowned(ctx context.Context, owner string) (int64, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return 0, newServiceError(opClaimUnowned, "missing_owner", errMissingOwner)
	}
	result := r.db.WithContext(ctx).Model(&Canvas{}).Where("owner = ?", "").Update(fieldOwner, owner)
	if result.Error != nil {
		r.logError(opClaimUnowned, reasonQueryFailed, result.Error, zap.String(fieldOwner, owner))
		return 0, newServiceError(opClaimUnowned, reasonQueryFailed, result.Error)
	}

	r.mu.Lock()
	if r.current != nil && r.current.Owner == "" {
		r.current.Owner = owner
	}
	r.mu.Unlock()
	r.LoadCanvases(ctx)
	return result.RowsAffected, nil
}

// Export returns every canvas owned by owner together with its elements.
func (r *Repository) Export(ctx context.Context, owner string) ([]CanvasSnapshot, error) {
	var canvases []Canvas
	if err := r.db.WithContext(ctx).Where("owner = ?", owner).Order(orderCanvasRecency).Find(&canvases).Error; err != nil {
		r.logError(opExport, reasonQueryFailed, err, zap.String(fieldOwner, owner))
		return nil, newServiceError(opExport, reasonQueryFailed, err)
	}
	snapshots := make([]CanvasSnapshot, 0, len(canvases))
	for _, canvas := range canvases {
		var records []ElementRecord
		if err := r.db.WithContext(ctx).Where(queryCanvasID, canvas.ID).Order(orderElements).Find(&records).Error; err != nil {
			r.logError(opExport, reasonQueryFailed, err, zap.String(fieldCanvasID, canvas.ID))
			return nil, newServiceError(opExport, reasonQueryFailed, err)
		}
		snapshots = append(snapshots, CanvasSnapshot{Canvas: canvas, Elements: records})
	}
	return snapshots, nil
}

// Import applies merged remote state. Canvases are upserted keeping the later
// modification time; elements are inserted when missing. Canvases whose slug
// is taken by a different local canvas and malformed elements are skipped.
// It returns the number of elements inserted.
func (r *Repository) Import(ctx context.Context, snapshots []CanvasSnapshot) (int, error) {
	inserted := 0
	touched := make(map[string]bool)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, snapshot := range snapshots {
			canvas := snapshot.Canvas
			if canvas.ID == "" || !IsValidSlug(canvas.Slug) {
				r.logger.Warn("skipping malformed remote canvas", zap.String(fieldCanvasID, canvas.ID), zap.String(fieldSlug, canvas.Slug))
				continue
			}
			var clash int64
			if err := tx.Model(&Canvas{}).Where("slug = ? AND canvas_id <> ?", canvas.Slug, canvas.ID).Count(&clash).Error; err != nil {
				return err
			}
			if clash > 0 {
				r.logger.Warn("skipping remote canvas with clashing slug", zap.String(fieldCanvasID, canvas.ID), zap.String(fieldSlug, canvas.Slug))
				continue
			}
			upsert := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "canvas_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"updated_at_ms": gorm.Expr("MAX(canvases.updated_at_ms, excluded.updated_at_ms)"),
					"owner":         gorm.Expr("excluded.owner"),
				}),
			}).Create(&canvas)
			if upsert.Error != nil {
				return upsert.Error
			}

			for _, record := range snapshot.Elements {
				if record.CanvasID != canvas.ID {
					r.logger.Warn("skipping remote element for foreign canvas", zap.String(fieldCanvasID, canvas.ID))
					continue
				}
				if _, err := elementFromRecord(record); err != nil {
					r.logger.Warn("skipping malformed remote element", zap.String(fieldCanvasID, canvas.ID), zap.Error(err))
					continue
				}
				created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
				if created.Error != nil {
					return created.Error
				}
				inserted += int(created.RowsAffected)
			}
			touched[canvas.ID] = true
		}
		return nil
	})
	if err != nil {
		r.logError(opImport, reasonInsertFailed, err)
		return 0, newServiceError(opImport, reasonInsertFailed, err)
	}

	r.LoadCanvases(ctx)
	if current, ok := r.Current(); ok && touched[current.ID] {
		r.refreshCurrent(ctx, opImport, current.ID)
	}
	return inserted, nil
}
