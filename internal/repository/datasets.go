package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *Repository) CreateDataset(ctx context.Context, ownerID int64, filename string, typ models.DatasetType) (*models.Dataset, error) {
	d := &models.Dataset{OwnerID: ownerID, Filename: filename, Type: typ, Status: models.DatasetPending}
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO datasets (owner_id, filename, type, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id, uploaded_at`,
			ownerID, filename, typ, d.Status,
		).Scan(&d.ID, &d.UploadedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("insert dataset: %w", err)
	}
	return d, nil
}

func (r *Repository) GetDataset(ctx context.Context, ownerID, id int64) (*models.Dataset, error) {
	d := &models.Dataset{}
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT id, owner_id, filename, type, status, row_count, uploaded_at
			FROM datasets WHERE id = $1`,
			id,
		).Scan(&d.ID, &d.OwnerID, &d.Filename, &d.Type, &d.Status, &d.RowCount, &d.UploadedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "dataset not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query dataset: %w", err)
	}
	return d, nil
}

func (r *Repository) ListDatasets(ctx context.Context, ownerID int64, typ models.DatasetType) ([]models.Dataset, error) {
	var out []models.Dataset
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		query := `
			SELECT id, owner_id, filename, type, status, row_count, uploaded_at
			FROM datasets`
		args := []interface{}{}
		if typ != "" {
			query += " WHERE type = $1"
			args = append(args, typ)
		}
		query += " ORDER BY uploaded_at DESC, id DESC"

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d models.Dataset
			if err := rows.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.Type, &d.Status, &d.RowCount, &d.UploadedAt); err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	if out == nil {
		out = []models.Dataset{}
	}
	return out, nil
}

func (r *Repository) SetDatasetStatus(ctx context.Context, ownerID, id int64, status string) error {
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "UPDATE datasets SET status = $1 WHERE id = $2", status, id)
		if err != nil {
			return fmt.Errorf("update dataset status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.NotFound, "dataset not found")
		}
		return nil
	})
}

// RecountDataset recomputes row_count from the row tables: transaction
// datasets count rows, click datasets sum clicks. Used after chunk
// completion and by the recount tool.
func (r *Repository) RecountDataset(ctx context.Context, ownerID, id int64, typ models.DatasetType) (int64, error) {
	query := "SELECT COUNT(*) FROM transaction_rows WHERE dataset_id = $1"
	if typ == models.DatasetClick {
		query = "SELECT COALESCE(SUM(clicks), 0) FROM click_rows WHERE dataset_id = $1"
	}
	var count int64
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query, id).Scan(&count); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "UPDATE datasets SET row_count = $1 WHERE id = $2", count, id)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("recount dataset %d: %w", id, err)
	}
	return count, nil
}

// DeleteDataset removes the dataset and, through ON DELETE CASCADE, its rows,
// jobs and allocations.
func (r *Repository) DeleteDataset(ctx context.Context, ownerID, id int64) error {
	return r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM datasets WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete dataset: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.NotFound, "dataset not found")
		}
		return nil
	})
}
