package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Repository is the gorm-backed queue, ledger, rule mirror, directory,
// idempotency and outbox store. It runs on PostgreSQL and SQLite.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Enqueue(ctx context.Context, job entities.DistributionJob) error {
	if err := validateJob(job); err != nil {
		r.logWarn("distribution_repo_enqueue_invalid_input",
			"job_id", strings.TrimSpace(job.ID),
			"identifier", strings.TrimSpace(job.Identifier),
			"depth", job.Depth,
			"error", err.Error(),
		)
		return err
	}
	row := distributionJobModelFromEntity(job)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			r.logWarn("distribution_repo_enqueue_duplicate",
				"job_id", row.ID,
				"source_ref", row.SourceRef,
			)
			return domainerrors.ErrJobExists
		}
		return r.logError("distribution_repo_enqueue_failed", err,
			"job_id", row.ID,
			"source_ref", row.SourceRef,
		)
	}
	return nil
}

// ClaimBatch moves up to limit pending jobs to processing, oldest first. Each
// row is taken with a conditional update on status, so a row another worker
// already claimed affects zero rows and is skipped.
func (r *Repository) ClaimBatch(ctx context.Context, limit int, claimedAt time.Time) ([]entities.DistributionJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	var candidates []distributionJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(entities.JobStatusPending)).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, r.logError("distribution_repo_claim_select_failed", err,
			"limit", limit,
		)
	}

	at := claimedAt.UTC()
	claimed := make([]entities.DistributionJob, 0, len(candidates))
	for _, row := range candidates {
		result := r.db.WithContext(ctx).
			Model(&distributionJobModel{}).
			Where("id = ?", row.ID).
			Where("status = ?", string(entities.JobStatusPending)).
			Updates(map[string]any{
				"status":     string(entities.JobStatusProcessing),
				"claimed_at": at,
				"updated_at": at,
			})
		if result.Error != nil {
			return claimed, r.logError("distribution_repo_claim_update_failed", result.Error,
				"job_id", row.ID,
			)
		}
		if result.RowsAffected == 0 {
			continue
		}
		row.Status = string(entities.JobStatusProcessing)
		row.ClaimedAt = &at
		row.UpdatedAt = at
		claimed = append(claimed, row.toEntity())
	}
	return claimed, nil
}

func (r *Repository) MarkCompleted(ctx context.Context, jobID string, externalRef string, note string, at time.Time) error {
	return r.transition(ctx, "distribution_repo_mark_completed", jobID, map[string]any{
		"status":       string(entities.JobStatusCompleted),
		"external_ref": strings.TrimSpace(externalRef),
		"pending_pool": nil,
		"note":         strings.TrimSpace(note),
		"processed_at": at.UTC(),
		"updated_at":   at.UTC(),
	})
}

func (r *Repository) MarkRetry(ctx context.Context, jobID string, lastError string, pending entities.PendingSettlement, at time.Time) error {
	return r.transition(ctx, "distribution_repo_mark_retry", jobID, map[string]any{
		"status":       string(entities.JobStatusPending),
		"attempts":     gorm.Expr("attempts + 1"),
		"last_error":   entities.TruncateError(lastError),
		"external_ref": strings.TrimSpace(pending.TxHash),
		"pending_pool": pending.PoolRef(),
		"updated_at":   at.UTC(),
	})
}

func (r *Repository) MarkFailed(ctx context.Context, jobID string, lastError string, pending entities.PendingSettlement, at time.Time) error {
	return r.transition(ctx, "distribution_repo_mark_failed", jobID, map[string]any{
		"status":       string(entities.JobStatusFailed),
		"attempts":     gorm.Expr("attempts + 1"),
		"last_error":   entities.TruncateError(lastError),
		"external_ref": strings.TrimSpace(pending.TxHash),
		"pending_pool": pending.PoolRef(),
		"processed_at": at.UTC(),
		"updated_at":   at.UTC(),
	})
}

func (r *Repository) transition(ctx context.Context, event string, jobID string, updates map[string]any) error {
	normalizedJobID := strings.TrimSpace(jobID)
	result := r.db.WithContext(ctx).
		Model(&distributionJobModel{}).
		Where("id = ?", normalizedJobID).
		Where("status = ?", string(entities.JobStatusProcessing)).
		Updates(updates)
	if result.Error != nil {
		return r.logError(event+"_failed", result.Error,
			"job_id", normalizedJobID,
		)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if _, err := r.GetJob(ctx, normalizedJobID); err != nil {
		return err
	}
	r.logWarn(event+"_not_processing",
		"job_id", normalizedJobID,
	)
	return domainerrors.ErrJobNotProcessing
}

func (r *Repository) GetJob(ctx context.Context, jobID string) (entities.DistributionJob, error) {
	var row distributionJobModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(jobID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.DistributionJob{}, domainerrors.ErrJobNotFound
		}
		return entities.DistributionJob{}, r.logError("distribution_repo_get_job_failed", err,
			"job_id", strings.TrimSpace(jobID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) GetJobByDedupeKey(ctx context.Context, dedupeKey string) (entities.DistributionJob, error) {
	var row distributionJobModel
	err := r.db.WithContext(ctx).
		Where("dedupe_key = ?", strings.TrimSpace(dedupeKey)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.DistributionJob{}, domainerrors.ErrJobNotFound
		}
		return entities.DistributionJob{}, r.logError("distribution_repo_get_job_by_dedupe_key_failed", err,
			"dedupe_key", strings.TrimSpace(dedupeKey),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListJobsBySource(ctx context.Context, sourceRef string) ([]entities.DistributionJob, error) {
	var rows []distributionJobModel
	if err := r.db.WithContext(ctx).
		Where("source_ref = ?", strings.TrimSpace(sourceRef)).
		Order("depth ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("distribution_repo_list_jobs_by_source_failed", err,
			"source_ref", strings.TrimSpace(sourceRef),
		)
	}
	jobs := make([]entities.DistributionJob, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toEntity())
	}
	return jobs, nil
}

func (r *Repository) ResetStale(ctx context.Context, processingBefore time.Time, at time.Time) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&distributionJobModel{}).
		Where("status = ?", string(entities.JobStatusProcessing)).
		Where("claimed_at < ?", processingBefore.UTC()).
		Updates(map[string]any{
			"status":     string(entities.JobStatusPending),
			"claimed_at": nil,
			"updated_at": at.UTC(),
		})
	if result.Error != nil {
		return 0, r.logError("distribution_repo_reset_stale_failed", result.Error,
			"processing_before", processingBefore.UTC().Format(time.RFC3339),
		)
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) Requeue(ctx context.Context, jobID string, at time.Time) error {
	normalizedJobID := strings.TrimSpace(jobID)
	result := r.db.WithContext(ctx).
		Model(&distributionJobModel{}).
		Where("id = ?", normalizedJobID).
		Where("status = ?", string(entities.JobStatusFailed)).
		Updates(map[string]any{
			"status":       string(entities.JobStatusPending),
			"attempts":     0,
			"claimed_at":   nil,
			"processed_at": nil,
			"updated_at":   at.UTC(),
		})
	if result.Error != nil {
		return r.logError("distribution_repo_requeue_failed", result.Error,
			"job_id", normalizedJobID,
		)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if _, err := r.GetJob(ctx, normalizedJobID); err != nil {
		return err
	}
	return domainerrors.ErrJobNotFailed
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "finance-core/cascade-distribution",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("distribution repository operation failed", fields...)
	return err
}

func (r *Repository) logWarn(event string, attrs ...any) {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields,
		"event", event,
		"module", "finance-core/cascade-distribution",
		"layer", "adapter",
	)
	fields = append(fields, attrs...)
	r.logger.Warn("distribution repository warning", fields...)
}

func validateJob(job entities.DistributionJob) error {
	if strings.TrimSpace(job.ID) == "" ||
		strings.TrimSpace(job.Identifier) == "" ||
		strings.TrimSpace(job.Asset) == "" ||
		strings.TrimSpace(job.SourceRef) == "" ||
		job.Depth < 0 {
		return domainerrors.ErrInvalidJobInput
	}
	if job.Depth > entities.MaxDepth {
		return domainerrors.ErrDepthExceeded
	}
	return nil
}

// isUniqueViolation recognises duplicate keys from pgx, from gorm's translated
// errors and from SQLite.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ ports.JobQueue = (*Repository)(nil)
