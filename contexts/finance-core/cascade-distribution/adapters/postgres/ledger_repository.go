package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) AppendLedgerEntries(ctx context.Context, entries []entities.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]ledgerEntryModel, 0, len(entries))
	for _, entry := range entries {
		row := ledgerEntryModelFromEntity(entry)
		if row.ID == "" || row.Asset == "" {
			return domainerrors.ErrInvalidJobInput
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		rows = append(rows, row)
	}
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	}); err != nil {
		return r.logError("distribution_repo_append_ledger_failed", err,
			"entries", len(rows),
			"source_ref", rows[0].SourceRef,
		)
	}
	return nil
}

func (r *Repository) ListLedgerEntries(ctx context.Context, sourceRef string) ([]entities.LedgerEntry, error) {
	var rows []ledgerEntryModel
	if err := r.db.WithContext(ctx).
		Where("source_ref = ?", strings.TrimSpace(sourceRef)).
		Order("depth ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("distribution_repo_list_ledger_failed", err,
			"source_ref", strings.TrimSpace(sourceRef),
		)
	}
	entries := make([]entities.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toEntity())
	}
	return entries, nil
}

// GetSplitRule reads the mirrored rule set. An owner with no rows has no rules.
func (r *Repository) GetSplitRule(ctx context.Context, owner string) (entities.SplitRule, error) {
	normalizedOwner := strings.TrimSpace(owner)
	var rows []splitRuleModel
	if err := r.db.WithContext(ctx).
		Where("owner = ?", normalizedOwner).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return entities.SplitRule{}, r.logError("distribution_repo_get_split_rule_failed", err,
			"owner", normalizedOwner,
		)
	}
	rule := entities.SplitRule{Owner: normalizedOwner}
	for _, row := range rows {
		rule.Recipients = append(rule.Recipients, entities.Recipient{
			Identifier: row.Recipient,
			ShareBps:   row.ShareBps,
		})
	}
	return rule, nil
}

// PutSplitRule replaces the mirrored rule set for one owner.
func (r *Repository) PutSplitRule(ctx context.Context, rule entities.SplitRule) error {
	owner := strings.TrimSpace(rule.Owner)
	if owner == "" {
		return domainerrors.ErrInvalidJobInput
	}
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner = ?", owner).Delete(&splitRuleModel{}).Error; err != nil {
			return err
		}
		if len(rule.Recipients) == 0 {
			return nil
		}
		rows := make([]splitRuleModel, 0, len(rule.Recipients))
		for i, recipient := range rule.Recipients {
			rows = append(rows, splitRuleModel{
				Owner:     owner,
				Position:  i,
				Recipient: strings.TrimSpace(recipient.Identifier),
				ShareBps:  recipient.ShareBps,
				UpdatedAt: now,
			})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return r.logError("distribution_repo_put_split_rule_failed", err,
			"owner", owner,
		)
	}
	return nil
}

func (r *Repository) ResolveAccount(ctx context.Context, identifier string) (string, error) {
	normalizedIdentifier := strings.TrimSpace(identifier)
	var row identifierAccountModel
	err := r.db.WithContext(ctx).
		Where("identifier = ?", normalizedIdentifier).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domainerrors.ErrAccountUnresolved
		}
		return "", r.logError("distribution_repo_resolve_account_failed", err,
			"identifier", normalizedIdentifier,
		)
	}
	return row.Account, nil
}

func (r *Repository) PutAccount(ctx context.Context, identifier string, account string) error {
	row := identifierAccountModel{
		Identifier: strings.TrimSpace(identifier),
		Account:    strings.TrimSpace(account),
		UpdatedAt:  time.Now().UTC(),
	}
	if row.Identifier == "" || row.Account == "" {
		return domainerrors.ErrInvalidJobInput
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{"account", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return r.logError("distribution_repo_put_account_failed", err,
			"identifier", row.Identifier,
		)
	}
	return nil
}

var (
	_ ports.LedgerRepository    = (*Repository)(nil)
	_ ports.SplitRuleReader     = (*Repository)(nil)
	_ ports.IdentifierDirectory = (*Repository)(nil)
)
