package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"marketdash/internal/models"
)

// InsertTransactionRows writes a batch with fingerprint dedup: rows whose
// fingerprint already exists are skipped, making re-runs of the
// same chunk idempotent. Returns how many rows were actually inserted.
func (r *Repository) InsertTransactionRows(ctx context.Context, ownerID int64, rows []*models.TransactionRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(`
				INSERT INTO transaction_rows (
					dataset_id, owner_id, date, time, platform, category, product,
					status, sub_id, order_id, product_id,
					revenue, commission, cost, profit, quantity, fingerprint)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
				ON CONFLICT (owner_id, fingerprint) DO NOTHING`,
				row.DatasetID, row.OwnerID, row.Date, row.Time, row.Platform,
				row.Category, row.Product, row.Status, row.SubID, row.OrderID,
				row.ProductID, row.Revenue, row.Commission, row.Cost, row.Profit,
				row.Quantity, row.Fingerprint)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range rows {
			tag, err := br.Exec()
			if err != nil {
				return dbErr("insert transaction row", err)
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *Repository) InsertClickRows(ctx context.Context, ownerID int64, rows []*models.ClickRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(`
				INSERT INTO click_rows (dataset_id, owner_id, date, time, channel, sub_id, clicks, fingerprint)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
				ON CONFLICT (owner_id, fingerprint) DO NOTHING`,
				row.DatasetID, row.OwnerID, row.Date, row.Time, row.Channel,
				row.SubID, row.Clicks, row.Fingerprint)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for range rows {
			tag, err := br.Exec()
			if err != nil {
				return dbErr("insert click row", err)
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListTransactionRows pages through a dataset's rows in insertion order.
func (r *Repository) ListTransactionRows(ctx context.Context, ownerID, datasetID int64, limit, offset int) ([]models.TransactionRow, error) {
	var out []models.TransactionRow
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, dataset_id, owner_id, date, time, platform, category, product,
				status, sub_id, order_id, product_id,
				revenue, commission, cost, profit, quantity, fingerprint
			FROM transaction_rows
			WHERE dataset_id = $1
			ORDER BY id
			LIMIT $2 OFFSET $3`,
			datasetID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t models.TransactionRow
			if err := rows.Scan(&t.ID, &t.DatasetID, &t.OwnerID, &t.Date, &t.Time,
				&t.Platform, &t.Category, &t.Product, &t.Status, &t.SubID,
				&t.OrderID, &t.ProductID, &t.Revenue, &t.Commission, &t.Cost,
				&t.Profit, &t.Quantity, &t.Fingerprint); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list transaction rows: %w", err)
	}
	if out == nil {
		out = []models.TransactionRow{}
	}
	return out, nil
}

func (r *Repository) ListClickRows(ctx context.Context, ownerID, datasetID int64, limit, offset int) ([]models.ClickRow, error) {
	var out []models.ClickRow
	err := r.withTenant(ctx, ownerID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, dataset_id, owner_id, date, time, channel, sub_id, clicks, fingerprint
			FROM click_rows
			WHERE dataset_id = $1
			ORDER BY id
			LIMIT $2 OFFSET $3`,
			datasetID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c models.ClickRow
			if err := rows.Scan(&c.ID, &c.DatasetID, &c.OwnerID, &c.Date, &c.Time,
				&c.Channel, &c.SubID, &c.Clicks, &c.Fingerprint); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list click rows: %w", err)
	}
	if out == nil {
		out = []models.ClickRow{}
	}
	return out, nil
}
