package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	memoirsql "github.com/siherrmann/memoir/sql"
	"github.com/siherrmann/memoir/store"
)

// TypesDBHandler handles the persisted type registry and the schema-op
// audit log. It implements store.TypeStore.
type TypesDBHandler struct {
	db *helper.Database
}

var _ store.TypeStore = &TypesDBHandler{}

// NewTypesDBHandler creates a new types database handler.
// It initializes the database connection and loads type-registry SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewTypesDBHandler(db *helper.Database, force bool) (*TypesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	typesDbHandler := &TypesDBHandler{
		db: db,
	}

	err := memoirsql.LoadTypesSql(typesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load types sql", err)
	}

	err = typesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized TypesDBHandler")

	return typesDbHandler, nil
}

// CreateTable creates the 'type_versions' and 'schema_ops' tables.
// If the tables already exist, it does not create them again.
func (h *TypesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_types();`)
	if err != nil {
		log.Panicf("error initializing types tables: %#v", err)
	}

	h.db.Logger.Info("Checked/created tables type_versions, schema_ops")

	return nil
}

// InsertTypeVersion persists one committed type version
func (h *TypesDBHandler) InsertTypeVersion(ctx context.Context, typ *model.EntityType) error {
	properties, err := json.Marshal(typ.Properties)
	if err != nil {
		return helper.NewError("marshal properties", err)
	}

	row := h.db.Querier().QueryRowContext(ctx,
		`SELECT * FROM insert_type_version($1, $2, $3)`,
		typ.Name,
		typ.Version,
		properties,
	)

	var rawProperties []byte
	err = row.Scan(
		&typ.Name,
		&typ.Version,
		&rawProperties,
		&typ.CreatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectAllTypeVersions returns every committed version of every type,
// ordered by name then version
func (h *TypesDBHandler) SelectAllTypeVersions(ctx context.Context) ([]*model.EntityType, error) {
	rows, err := h.db.Querier().QueryContext(ctx,
		`SELECT * FROM select_all_type_versions()`,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var types []*model.EntityType
	for rows.Next() {
		typ := &model.EntityType{}
		var rawProperties []byte
		err := rows.Scan(
			&typ.Name,
			&typ.Version,
			&rawProperties,
			&typ.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		err = json.Unmarshal(rawProperties, &typ.Properties)
		if err != nil {
			return nil, helper.NewError("unmarshal properties", err)
		}

		types = append(types, typ)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return types, nil
}

// RecordSchemaOp appends to the schema-op audit log
func (h *TypesDBHandler) RecordSchemaOp(ctx context.Context, opType string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	_, err := h.db.Querier().ExecContext(ctx,
		`SELECT record_schema_op($1, $2)`,
		opType,
		payload,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
