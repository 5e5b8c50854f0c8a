package repositories

import (
	"context"
	"fmt"
	"regexp"

	"clubpay/pkg/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{0,47}$`)

// SchemaName maps a tenant id to its storage namespace.
func SchemaName(tenantID string) (string, error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return "", fmt.Errorf("%w: %q", utils.ErrInvalidTenant, tenantID)
	}
	return "tenant_" + tenantID, nil
}

// TenantDB runs a unit of work inside one transaction against one tenant's
// schema. Nothing about the selected schema outlives the transaction.
type TenantDB interface {
	WithTenant(ctx context.Context, tenantID string, fn func(store BillingStore) error) error
}

type tenantDB struct {
	db *gorm.DB
}

func NewTenantDB(db *gorm.DB) TenantDB {
	return &tenantDB{db: db}
}

// searchPathSQL selects only the tenant schema. Shared tables are always
// schema-qualified, so an unprovisioned tenant fails instead of reading public.
func searchPathSQL(schema string) string {
	return "SET LOCAL search_path TO " + pq.QuoteIdentifier(schema)
}

func (t *tenantDB) WithTenant(ctx context.Context, tenantID string, fn func(store BillingStore) error) error {
	schema, err := SchemaName(tenantID)
	if err != nil {
		return err
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SET LOCAL is scoped to this transaction, so the pooled connection
		// goes back with its default search_path.
		if err := tx.Exec(searchPathSQL(schema)).Error; err != nil {
			return fmt.Errorf("select schema %s: %w", schema, err)
		}
		return fn(&billingRepository{db: tx})
	})
}
