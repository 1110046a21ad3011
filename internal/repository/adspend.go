package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
)

func (r *Repository) CreateAdSpend(ctx context.Context, s *models.AdSpend) error {
	return r.withTenant(ctx, s.OwnerID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO ad_spends (owner_id, date, sub_id, amount, clicks)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			s.OwnerID, s.Date, s.SubID, s.Amount, s.Clicks,
		).Scan(&s.ID, &s.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert ad spend: %w", err)
		}
		return nil
	})
}

// BulkCreateAdSpends inserts many records in one transaction; all or nothing.
func (r *Repository) BulkCreateAdSpends(ctx context.Context, ownerID int64, spends []*models.AdSpend) error {
	if len(spends) == 0 {
		return nil
	}
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, s := range spends {
			batch.Queue(`
				INSERT INTO ad_spends (owner_id, date, sub_id, amount, clicks)
				VALUES ($1, $2, $3, $4, $5)`,
				ownerID, s.Date, s.SubID, s.Amount, s.Clicks)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range spends {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("insert ad spend: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) GetAdSpend(ctx context.Context, ownerID, id int64) (*models.AdSpend, error) {
	s := &models.AdSpend{}
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT id, owner_id, date, COALESCE(sub_id, ''), amount, clicks, created_at
			FROM ad_spends WHERE id = $1`,
			id,
		).Scan(&s.ID, &s.OwnerID, &s.Date, &s.SubID, &s.Amount, &s.Clicks, &s.CreatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "ad spend not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query ad spend: %w", err)
	}
	return s, nil
}

func (r *Repository) ListAdSpends(ctx context.Context, ownerID int64, from, to *time.Time) ([]models.AdSpend, error) {
	var out []models.AdSpend
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		query := `
			SELECT id, owner_id, date, COALESCE(sub_id, ''), amount, clicks, created_at
			FROM ad_spends WHERE 1=1`
		args := []interface{}{}
		if from != nil {
			args = append(args, *from)
			query += fmt.Sprintf(" AND date >= $%d", len(args))
		}
		if to != nil {
			args = append(args, *to)
			query += fmt.Sprintf(" AND date <= $%d", len(args))
		}
		query += " ORDER BY date DESC, id DESC"

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var s models.AdSpend
			if err := rows.Scan(&s.ID, &s.OwnerID, &s.Date, &s.SubID, &s.Amount, &s.Clicks, &s.CreatedAt); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list ad spends: %w", err)
	}
	if out == nil {
		out = []models.AdSpend{}
	}
	return out, nil
}

func (r *Repository) DeleteAdSpend(ctx context.Context, ownerID, id int64) error {
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM ad_spends WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete ad spend: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.NotFound, "ad spend not found")
		}
		return nil
	})
}

// UpdateAdSpend rewrites the editable fields of one record.
func (r *Repository) UpdateAdSpend(ctx context.Context, s *models.AdSpend) error {
	return r.withTenant(ctx, s.OwnerID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE ad_spends SET date = $1, sub_id = $2, amount = $3, clicks = $4
			WHERE id = $5`,
			s.Date, s.SubID, s.Amount, s.Clicks, s.ID)
		if err != nil {
			return fmt.Errorf("update ad spend: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.NotFound, "ad spend not found")
		}
		return nil
	})
}

// AllocationTarget is one transaction row eligible for an ad-spend share.
type AllocationTarget struct {
	RowID   int64
	Revenue decimal.Decimal
}

// RowShare is the computed cost increment for one row.
type RowShare struct {
	RowID  int64
	Amount decimal.Decimal
}

// ListAllocationTargets returns the dataset's rows matching the spend's date
// (and sub_id when set), in id order so cent distribution is deterministic.
func (r *Repository) ListAllocationTargets(ctx context.Context, ownerID, datasetID int64, date time.Time, subID string) ([]AllocationTarget, error) {
	var out []AllocationTarget
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		query := `
			SELECT id, revenue FROM transaction_rows
			WHERE dataset_id = $1 AND date = $2`
		args := []interface{}{datasetID, date}
		if subID != "" {
			args = append(args, subID)
			query += " AND sub_id = $3"
		}
		query += " ORDER BY id"

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t AllocationTarget
			if err := rows.Scan(&t.RowID, &t.Revenue); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list allocation targets: %w", err)
	}
	return out, nil
}

// ApplyAllocation records the allocation and applies the per-row cost
// increments in one transaction. The log row's unique (ad_spend_id,
// dataset_id) key makes double application impossible: a second call for the
// same pair returns Conflict without touching any row. An empty shares slice
// with unallocated=true records the spend as unallocated.
func (r *Repository) ApplyAllocation(ctx context.Context, ownerID, datasetID, adSpendID int64, shares []RowShare, unallocated bool) error {
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ad_spend_allocations (ad_spend_id, dataset_id, owner_id, row_count, unallocated)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (ad_spend_id, dataset_id) DO NOTHING`,
			adSpendID, datasetID, ownerID, len(shares), unallocated)
		if err != nil {
			return fmt.Errorf("record allocation: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.Conflict, "ad spend already allocated to dataset")
		}
		batch := &pgx.Batch{}
		for _, share := range shares {
			batch.Queue(`
				UPDATE transaction_rows SET
					cost = cost + $1,
					profit = revenue - (cost + $1) - commission
				WHERE id = $2`,
				share.Amount, share.RowID)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range shares {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("apply row share: %w", err)
			}
		}
		return nil
	})
}

// AllocationRecord is the log entry written by ApplyAllocation.
type AllocationRecord struct {
	AdSpendID   int64     `json:"ad_spend_id"`
	DatasetID   int64     `json:"dataset_id"`
	RowCount    int       `json:"row_count"`
	Unallocated bool      `json:"unallocated"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *Repository) ListAllocations(ctx context.Context, ownerID, adSpendID int64) ([]AllocationRecord, error) {
	var out []AllocationRecord
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT ad_spend_id, dataset_id, row_count, unallocated, created_at
			FROM ad_spend_allocations
			WHERE ad_spend_id = $1
			ORDER BY dataset_id`,
			adSpendID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a AllocationRecord
			if err := rows.Scan(&a.AdSpendID, &a.DatasetID, &a.RowCount, &a.Unallocated, &a.CreatedAt); err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	if out == nil {
		out = []AllocationRecord{}
	}
	return out, nil
}
