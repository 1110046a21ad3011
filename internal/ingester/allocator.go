package ingester

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"marketdash/internal/apperr"
	"marketdash/internal/repository"
)

// AllocationResult reports what one allocation run did.
type AllocationResult struct {
	AdSpendID      int64           `json:"ad_spend_id"`
	DatasetID      int64           `json:"dataset_id"`
	RowsAllocated  int             `json:"rows_allocated"`
	Amount         decimal.Decimal `json:"amount"`
	Unallocated    bool            `json:"unallocated"`
	AlreadyApplied bool            `json:"already_applied"`
}

// AllocateAdSpend distributes one ad spend across the dataset's transaction
// rows matching the spend's date and sub_id, proportionally to revenue. The
// repository's allocation log makes re-runs no-ops.
func (s *Service) AllocateAdSpend(ctx context.Context, ownerID, datasetID, adSpendID int64) (*AllocationResult, error) {
	spend, err := s.store.GetAdSpend(ctx, ownerID, adSpendID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetDataset(ctx, ownerID, datasetID); err != nil {
		return nil, err
	}

	targets, err := s.store.ListAllocationTargets(ctx, ownerID, datasetID, spend.Date, spend.SubID)
	if err != nil {
		return nil, err
	}
	shares := computeShares(spend.Amount, targets)

	result := &AllocationResult{
		AdSpendID:     adSpendID,
		DatasetID:     datasetID,
		RowsAllocated: len(shares),
		Amount:        spend.Amount,
		Unallocated:   len(shares) == 0,
	}
	err = s.store.ApplyAllocation(ctx, ownerID, datasetID, adSpendID, shares, result.Unallocated)
	if apperr.KindOf(err) == apperr.Conflict {
		result.AlreadyApplied = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"ad_spend_id": adSpendID, "dataset_id": datasetID,
		"rows": len(shares), "amount": spend.Amount,
	}).Info("ad spend allocated")
	return result, nil
}

// computeShares splits amount across the targets proportionally to revenue,
// rounding each share to cents. When every target has zero revenue the split
// is equal by count. The rounding remainder lands on the last target so the
// shares always sum to amount exactly. No targets means no shares.
func computeShares(amount decimal.Decimal, targets []repository.AllocationTarget) []repository.RowShare {
	if len(targets) == 0 {
		return nil
	}

	totalRevenue := decimal.Zero
	for _, t := range targets {
		totalRevenue = totalRevenue.Add(t.Revenue)
	}

	shares := make([]repository.RowShare, len(targets))
	assigned := decimal.Zero
	for i, t := range targets {
		var share decimal.Decimal
		if i == len(targets)-1 {
			share = amount.Sub(assigned)
		} else if totalRevenue.IsZero() {
			share = amount.Div(decimal.NewFromInt(int64(len(targets)))).Round(2)
		} else {
			share = amount.Mul(t.Revenue).Div(totalRevenue).Round(2)
		}
		shares[i] = repository.RowShare{RowID: t.RowID, Amount: share}
		assigned = assigned.Add(share)
	}
	return shares
}
