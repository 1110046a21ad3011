package normalizer

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"marketdash/internal/models"
)

// escapeField makes a field safe for the fixed "|" join: backslashes are
// doubled and literal pipes escaped, so no field content can collide with
// the delimiter.
func escapeField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "|", `\|`)
}

func fingerprint(fields ...string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = escapeField(f)
	}
	sum := md5.Sum([]byte(strings.Join(escaped, "|")))
	return hex.EncodeToString(sum[:])
}

// TransactionFingerprint is the content address of a transaction row:
// a 32-char hex digest over the owner id and the normalized dimension fields
// in fixed order. Rows sharing a fingerprint are the same logical record and
// dedup on insert. The owner id comes first so identical rows uploaded by
// different tenants never collide.
func TransactionFingerprint(r *models.TransactionRow) string {
	return fingerprint(
		strconv.FormatInt(r.OwnerID, 10),
		r.Date.Format(models.DateOnly),
		r.Platform,
		r.Category,
		r.Product,
		r.Status,
		r.SubID,
		r.OrderID,
		r.ProductID,
	)
}

// ClickFingerprint is the content address of a click row.
func ClickFingerprint(r *models.ClickRow) string {
	return fingerprint(
		strconv.FormatInt(r.OwnerID, 10),
		r.Date.Format(models.DateOnly),
		r.Channel,
		r.SubID,
	)
}
