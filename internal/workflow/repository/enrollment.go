package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *repo) InsertEnrollment(ctx context.Context, tx *gorm.DB, e *domain.Enrollment) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "active_key"}},
			DoNothing: true,
		}).
		Create(e)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindEnrollment(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Enrollment, error) {
	return firstEnrollment(tx.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id))
}

func (r *repo) FindByActiveKey(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, key string) (*domain.Enrollment, error) {
	return firstEnrollment(tx.WithContext(ctx).Where("org_id = ? AND active_key = ?", orgID, key))
}

func firstEnrollment(stmt *gorm.DB) (*domain.Enrollment, error) {
	var e domain.Enrollment
	if err := stmt.First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *repo) ListEnrollments(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, filter domain.EnrollmentFilter) ([]*domain.Enrollment, error) {
	stmt := tx.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("org_id = ?", orgID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.WorkflowID != 0 {
		stmt = stmt.Where("workflow_id = ?", filter.WorkflowID)
	}
	if filter.EntityID != "" {
		stmt = stmt.Where("entity_id = ?", filter.EntityID)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id < ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var items []*domain.Enrollment
	if err := stmt.Order("id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

const claimablePredicate = "status = ? AND next_check_at IS NOT NULL AND next_check_at <= ? AND (claimed_until IS NULL OR claimed_until <= ?)"

func (r *repo) ClaimDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int, leaseUntil time.Time, token string) ([]*domain.Enrollment, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()
	leaseUntil = leaseUntil.UTC()

	if db.IsPostgres(tx) {
		err := tx.WithContext(ctx).Exec(
			`UPDATE workflow_enrollments
			 SET claimed_until = ?, claim_token = ?
			 WHERE id IN (
			   SELECT id FROM workflow_enrollments
			   WHERE `+claimablePredicate+`
			   ORDER BY next_check_at ASC, id ASC
			   LIMIT ?
			   FOR UPDATE SKIP LOCKED
			 )`,
			leaseUntil, token,
			domain.EnrollmentActive, now, now,
			limit,
		).Error
		if err != nil {
			return nil, err
		}
	} else {
		var ids []snowflake.ID
		err := tx.WithContext(ctx).
			Model(&domain.Enrollment{}).
			Where(claimablePredicate, domain.EnrollmentActive, now, now).
			Order("next_check_at asc, id asc").
			Limit(limit).
			Pluck("id", &ids).Error
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			// each claim is a compare-and-set on the lease; losers skip the row
			err := tx.WithContext(ctx).
				Model(&domain.Enrollment{}).
				Where("id = ?", id).
				Where(claimablePredicate, domain.EnrollmentActive, now, now).
				Updates(map[string]any{
					"claimed_until": leaseUntil,
					"claim_token":   token,
				}).Error
			if err != nil {
				return nil, err
			}
		}
	}

	var claimed []*domain.Enrollment
	err := tx.WithContext(ctx).
		Where("claim_token = ?", token).
		Order("next_check_at asc, id asc").
		Find(&claimed).Error
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *repo) Commit(ctx context.Context, tx *gorm.DB, e *domain.Enrollment, token string, now time.Time) (bool, error) {
	active := domain.EnrollmentActive
	result := tx.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("id = ? AND org_id = ? AND claim_token = ?", e.ID, e.OrgID, token).
		Updates(map[string]any{
			"current_node_id":    e.CurrentNodeID,
			"status":             gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", active, e.Status),
			"outcome":            gorm.Expr("CASE WHEN status = ? THEN ? ELSE outcome END", active, e.Outcome),
			"active_key":         gorm.Expr("CASE WHEN status = ? THEN ? ELSE active_key END", active, e.ActiveKey),
			"completed_at":       gorm.Expr("CASE WHEN status = ? THEN ? ELSE completed_at END", active, e.CompletedAt),
			"last_error":         e.LastError,
			"node_entered_at":    e.NodeEnteredAt,
			"last_transition_at": e.LastTransitionAt,
			"next_check_at":      e.NextCheckAt,
			"send_attempts":      e.SendAttempts,
			"state_snapshot":     e.StateSnapshot,
			"path":               e.Path,
			"claimed_until":      nil,
			"claim_token":        nil,
			"updated_at":         now.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Pause(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, reason string, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("org_id = ? AND id = ? AND status = ?", orgID, id, domain.EnrollmentActive).
		Updates(map[string]any{
			"status":       domain.EnrollmentPaused,
			"pause_reason": reason,
			"updated_at":   now.UTC(),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repo) Resume(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, now time.Time) (bool, error) {
	now = now.UTC()
	result := tx.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("org_id = ? AND id = ? AND status = ?", orgID, id, domain.EnrollmentPaused).
		Updates(map[string]any{
			"status":        domain.EnrollmentActive,
			"pause_reason":  "",
			"next_check_at": now,
			"updated_at":    now,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repo) Stop(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, outcome domain.Outcome, now time.Time) (bool, error) {
	now = now.UTC()
	result := tx.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("org_id = ? AND id = ? AND status IN ?", orgID, id, []domain.EnrollmentStatus{domain.EnrollmentActive, domain.EnrollmentPaused}).
		Updates(stopColumns(outcome, now))
	return result.RowsAffected > 0, result.Error
}

func stopColumns(outcome domain.Outcome, now time.Time) map[string]any {
	return map[string]any{
		"status":             domain.EnrollmentStopped,
		"outcome":            string(outcome),
		"active_key":         nil,
		"next_check_at":      nil,
		"completed_at":       now,
		"last_transition_at": now,
		"updated_at":         now,
	}
}

func (r *repo) PauseByWorkflow(ctx context.Context, tx *gorm.DB, orgID, workflowID snowflake.ID, now time.Time) (int64, error) {
	result := tx.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("org_id = ? AND workflow_id = ? AND status = ?", orgID, workflowID, domain.EnrollmentActive).
		Updates(map[string]any{
			"status":       domain.EnrollmentPaused,
			"pause_reason": domain.PauseReasonWorkflow,
			"updated_at":   now.UTC(),
		})
	return result.RowsAffected, result.Error
}

// ResumeByWorkflow only wakes enrollments that the workflow pause put to
// sleep; manually paused ones stay paused.
func (r *repo) ResumeByWorkflow(ctx context.Context, tx *gorm.DB, orgID, workflowID snowflake.ID, now time.Time) (int64, error) {
	now = now.UTC()
	result := tx.WithContext(ctx).
		Model(&domain.Enrollment{}).
		Where("org_id = ? AND workflow_id = ? AND status = ? AND pause_reason = ?", orgID, workflowID, domain.EnrollmentPaused, domain.PauseReasonWorkflow).
		Updates(map[string]any{
			"status":        domain.EnrollmentActive,
			"pause_reason":  "",
			"next_check_at": now,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

func (r *repo) ListLiveByWorkflow(ctx context.Context, tx *gorm.DB, orgID, workflowID snowflake.ID) ([]*domain.Enrollment, error) {
	var items []*domain.Enrollment
	err := tx.WithContext(ctx).
		Where("org_id = ? AND workflow_id = ? AND status IN ?", orgID, workflowID, []domain.EnrollmentStatus{domain.EnrollmentActive, domain.EnrollmentPaused}).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
