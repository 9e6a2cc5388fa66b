package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueTypeName(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String()[:8])
}

func TestTypesNewTypesDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewTypesDBHandler", func(t *testing.T) {
		typesDbHandler, err := NewTypesDBHandler(database, true)
		assert.NoError(t, err, "Expected NewTypesDBHandler to not return an error")
		require.NotNil(t, typesDbHandler, "Expected NewTypesDBHandler to return a non-nil instance")
		require.NotNil(t, typesDbHandler.db, "Expected NewTypesDBHandler to have a non-nil database instance")
		require.NotNil(t, typesDbHandler.db.Instance, "Expected NewTypesDBHandler to have a non-nil database connection instance")
	})

	t.Run("Invalid call NewTypesDBHandler with nil database", func(t *testing.T) {
		_, err := NewTypesDBHandler(nil, false)
		assert.Error(t, err, "Expected error when creating TypesDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})
}

func TestTypesInsertTypeVersion(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	typesDbHandler, err := NewTypesDBHandler(database, true)
	require.NoError(t, err, "Expected NewTypesDBHandler to not return an error")

	t.Run("Insert type version", func(t *testing.T) {
		typ := &model.EntityType{
			Name:    uniqueTypeName("person"),
			Version: 1,
			Properties: []model.PropertyDef{
				{Name: "name", Kind: model.KindText},
				{Name: "age", Kind: model.KindNumber, Nullable: true},
			},
		}

		err := typesDbHandler.InsertTypeVersion(ctx, typ)
		assert.NoError(t, err, "Expected InsertTypeVersion to not return an error")
		assert.WithinDuration(t, typ.CreatedAt, time.Now(), 2*time.Second, "Expected CreatedAt to be set")
	})

	t.Run("Insert duplicate version fails", func(t *testing.T) {
		typ := &model.EntityType{
			Name:    uniqueTypeName("person"),
			Version: 1,
			Properties: []model.PropertyDef{
				{Name: "name", Kind: model.KindText},
			},
		}

		err := typesDbHandler.InsertTypeVersion(ctx, typ)
		require.NoError(t, err)

		duplicate := typ.Clone()
		err = typesDbHandler.InsertTypeVersion(ctx, duplicate)
		assert.Error(t, err, "Expected duplicate (name, version) insert to fail")
	})

	t.Run("Select all type versions returns ordered history", func(t *testing.T) {
		name := uniqueTypeName("project")
		for version := 1; version <= 3; version++ {
			typ := &model.EntityType{
				Name:    name,
				Version: version,
				Properties: []model.PropertyDef{
					{Name: "title", Kind: model.KindText},
				},
			}
			err := typesDbHandler.InsertTypeVersion(ctx, typ)
			require.NoError(t, err)
		}

		types, err := typesDbHandler.SelectAllTypeVersions(ctx)
		assert.NoError(t, err, "Expected SelectAllTypeVersions to not return an error")

		var versions []int
		for _, typ := range types {
			if typ.Name == name {
				versions = append(versions, typ.Version)
				assert.Len(t, typ.Properties, 1, "Expected properties to round-trip")
				assert.Equal(t, "title", typ.Properties[0].Name, "Expected property name to round-trip")
			}
		}
		assert.Equal(t, []int{1, 2, 3}, versions, "Expected versions ordered ascending")
	})

	t.Run("Reference property round-trips", func(t *testing.T) {
		typ := &model.EntityType{
			Name:    uniqueTypeName("task"),
			Version: 1,
			Properties: []model.PropertyDef{
				{Name: "owner", Kind: model.KindReference, RefType: "person", Nullable: true},
				{Name: "done", Kind: model.KindBoolean, Deprecated: true, Nullable: true},
			},
		}
		err := typesDbHandler.InsertTypeVersion(ctx, typ)
		require.NoError(t, err)

		types, err := typesDbHandler.SelectAllTypeVersions(ctx)
		require.NoError(t, err)

		var found *model.EntityType
		for _, candidate := range types {
			if candidate.Name == typ.Name {
				found = candidate
			}
		}
		require.NotNil(t, found, "Expected inserted type to be selectable")
		require.Len(t, found.Properties, 2)
		assert.Equal(t, "person", found.Properties[0].RefType, "Expected ref_type to round-trip")
		assert.True(t, found.Properties[1].Deprecated, "Expected deprecated flag to round-trip")
	})
}

func TestTypesRecordSchemaOp(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	typesDbHandler, err := NewTypesDBHandler(database, true)
	require.NoError(t, err)

	t.Run("Record schema op", func(t *testing.T) {
		err := typesDbHandler.RecordSchemaOp(ctx, "commit_type", []byte(`{"name":"person","version":1}`))
		assert.NoError(t, err, "Expected RecordSchemaOp to not return an error")

		var count int
		err = database.Instance.QueryRow(`SELECT COUNT(*) FROM schema_ops WHERE op_type = 'commit_type';`).Scan(&count)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, 1, "Expected at least one recorded schema op")
	})

	t.Run("Record schema op with empty payload defaults to empty object", func(t *testing.T) {
		err := typesDbHandler.RecordSchemaOp(ctx, "reject_proposal", nil)
		assert.NoError(t, err, "Expected RecordSchemaOp to accept an empty payload")

		var payload string
		err = database.Instance.QueryRow(`SELECT payload::text FROM schema_ops WHERE op_type = 'reject_proposal' ORDER BY id DESC LIMIT 1;`).Scan(&payload)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, payload, "Expected empty payload to be stored as an empty object")
	})
}
