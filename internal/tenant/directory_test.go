package tenant

import (
	"context"
	"errors"
	"testing"

	"predict-service/internal/model"
	"predict-service/pkg/database"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDirectory(t *testing.T) (*Directory, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewDirectory(db), db
}

func seedTenants(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, v := range []any{
		&model.Company{ID: 1, Name: "acme"},
		&model.Company{ID: 2, Name: "globex"},
		&model.ManagedAccount{Handle: "acme_main", CompanyID: 1},
		&model.ManagedAccount{Handle: "globex_main", CompanyID: 2},
		&model.Caller{Identity: "alice", CompanyID: 1, Role: model.RoleUser, Active: true},
		&model.Caller{Identity: "root", CompanyID: 1, Role: model.RoleAdmin, Active: true},
	} {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	ghost := model.Caller{Identity: "ghost", CompanyID: 2, Role: model.RoleUser, Active: true}
	if err := db.Create(&ghost).Error; err != nil {
		t.Fatalf("seed ghost: %v", err)
	}
	if err := db.Model(&ghost).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate ghost: %v", err)
	}
}

func TestAccountByHandle(t *testing.T) {
	dir, db := newTestDirectory(t)
	seedTenants(t, db)
	ctx := context.Background()

	account, err := dir.AccountByHandle(ctx, "acme_main")
	if err != nil {
		t.Fatalf("AccountByHandle: %v", err)
	}
	if account.CompanyID != 1 {
		t.Errorf("company_id = %d, want 1", account.CompanyID)
	}

	if _, err := dir.AccountByHandle(ctx, "nobody"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestCallerByIdentityIgnoresActiveFlag(t *testing.T) {
	dir, db := newTestDirectory(t)
	seedTenants(t, db)
	ctx := context.Background()

	// Resolution is independent of the Active flag; authentication
	// enforces it so a deactivated caller looks like a bad credential.
	caller, err := dir.CallerByIdentity(ctx, "ghost")
	if err != nil {
		t.Fatalf("CallerByIdentity: %v", err)
	}
	if caller.Active {
		t.Error("ghost should be inactive")
	}

	if _, err := dir.CallerByIdentity(ctx, "nobody"); !errors.Is(err, ErrCallerNotFound) {
		t.Errorf("err = %v, want ErrCallerNotFound", err)
	}
}

func TestAuthorize(t *testing.T) {
	sameCompany := &model.ManagedAccount{Handle: "a", CompanyID: 1}
	otherCompany := &model.ManagedAccount{Handle: "b", CompanyID: 2}

	cases := []struct {
		name    string
		caller  *model.Caller
		account *model.ManagedAccount
		wantErr bool
	}{
		{"user own company", &model.Caller{CompanyID: 1, Role: model.RoleUser}, sameCompany, false},
		{"user other company", &model.Caller{CompanyID: 1, Role: model.RoleUser}, otherCompany, true},
		{"viewer other company", &model.Caller{CompanyID: 1, Role: model.RoleViewer}, otherCompany, true},
		{"admin own company", &model.Caller{CompanyID: 1, Role: model.RoleAdmin}, sameCompany, false},
		{"admin other company", &model.Caller{CompanyID: 1, Role: model.RoleAdmin}, otherCompany, false},
	}

	dir, _ := newTestDirectory(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := dir.Authorize(tc.caller, tc.account)
			if tc.wantErr && !errors.Is(err, ErrForbidden) {
				t.Errorf("err = %v, want ErrForbidden", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
		})
	}
}

func TestAccountsForCompany(t *testing.T) {
	dir, db := newTestDirectory(t)
	seedTenants(t, db)
	ctx := context.Background()

	accounts, err := dir.AccountsForCompany(ctx, 1)
	if err != nil {
		t.Fatalf("AccountsForCompany: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Handle != "acme_main" {
		t.Errorf("accounts = %+v, want [acme_main]", accounts)
	}

	all, err := dir.AllAccounts(ctx)
	if err != nil {
		t.Fatalf("AllAccounts: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all accounts = %d, want 2", len(all))
	}
}
