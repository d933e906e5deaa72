package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meridianpay/webhooks/libs/db"
)

// Account is a connected (managed) account. Read-only here: this service
// never creates or deletes accounts, it only looks them up to enrich
// dispatched notifications with tenant context.
type Account struct {
	ID        string // provider-assigned account id, e.g. "acct_..."
	Name      string
	Country   string
	CreatedAt time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Find returns (nil, nil) when no account matches: an unresolvable account
// must not block dispatch.
func (r *Repository) Find(ctx context.Context, accountID string) (*Account, error) {
	var acct Account
	err := r.pool.QueryRow(ctx, `
		SELECT stripe_account_id, COALESCE(name, ''), COALESCE(country, ''), created_at
		FROM connected_accounts
		WHERE stripe_account_id = $1
	`, accountID).Scan(&acct.ID, &acct.Name, &acct.Country, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &acct, nil
}
