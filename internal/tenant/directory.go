package tenant

import (
	"context"
	"errors"
	"fmt"

	"predict-service/internal/model"

	"gorm.io/gorm"
)

// Directory errors. ErrForbidden is only ever produced by Authorize, i.e.
// after the caller has already been authenticated.
var (
	ErrAccountNotFound = errors.New("managed account not found")
	ErrCallerNotFound  = errors.New("caller not found")
	ErrForbidden       = errors.New("caller's company does not own the account")
)

// Directory is the read side of tenant isolation: it maps managed accounts
// and callers to their owning company and performs the ownership check.
// It never mutates state.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// AccountByHandle resolves a managed account.
func (d *Directory) AccountByHandle(ctx context.Context, handle string) (*model.ManagedAccount, error) {
	var account model.ManagedAccount
	err := d.db.WithContext(ctx).Where("handle = ?", handle).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account %q: %w", handle, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account %q: %w", handle, err)
	}
	return &account, nil
}

// CallerByIdentity resolves a caller record. The Active flag is NOT
// checked here; authentication applies it so an inactive caller is
// indistinguishable from a bad credential at the surface.
func (d *Directory) CallerByIdentity(ctx context.Context, identity string) (*model.Caller, error) {
	var caller model.Caller
	err := d.db.WithContext(ctx).Where("identity = ?", identity).First(&caller).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("caller %q: %w", identity, ErrCallerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup caller %q: %w", identity, err)
	}
	return &caller, nil
}

// Authorize enforces tenant isolation: the target account must belong to
// the caller's company unless the caller's role carries the cross-tenant
// override. Pure check, no side effects.
func (d *Directory) Authorize(caller *model.Caller, account *model.ManagedAccount) error {
	if caller.HasCrossTenantAccess() {
		return nil
	}
	if caller.CompanyID != account.CompanyID {
		return fmt.Errorf("account %q owned by company %d, caller belongs to %d: %w",
			account.Handle, account.CompanyID, caller.CompanyID, ErrForbidden)
	}
	return nil
}

// AccountsForCompany lists the managed accounts a company owns.
func (d *Directory) AccountsForCompany(ctx context.Context, companyID uint) ([]model.ManagedAccount, error) {
	var accounts []model.ManagedAccount
	err := d.db.WithContext(ctx).Where("company_id = ?", companyID).
		Order("handle").Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list accounts for company %d: %w", companyID, err)
	}
	return accounts, nil
}

// AllAccounts lists every managed account; admin-only surface.
func (d *Directory) AllAccounts(ctx context.Context) ([]model.ManagedAccount, error) {
	var accounts []model.ManagedAccount
	err := d.db.WithContext(ctx).Order("handle").Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}
