package repositories

import (
	"testing"

	"clubpay/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaName(t *testing.T) {
	schema, err := SchemaName("clube_atletico")
	require.NoError(t, err)
	assert.Equal(t, "tenant_clube_atletico", schema)

	for _, bad := range []string{"", "Clube", "a-b", "x; DROP SCHEMA public", "_lead", "a\"b",
		"this_tenant_identifier_is_far_too_long_for_a_schema_name_ok"} {
		_, err := SchemaName(bad)
		assert.ErrorIs(t, err, utils.ErrInvalidTenant, bad)
	}
}

func TestSearchPathSelectsOnlyTenantSchema(t *testing.T) {
	assert.Equal(t, `SET LOCAL search_path TO "tenant_clube_a"`, searchPathSQL("tenant_clube_a"))
}
