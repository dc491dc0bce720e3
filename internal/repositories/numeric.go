package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// decimalFromNumeric converts a scanned Postgres numeric into a ledger amount.
func decimalFromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Decimal{}, errors.New("null numeric value")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Decimal{}, errors.New("non-finite numeric value")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}
