package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	memoirsql "github.com/siherrmann/memoir/sql"
	"github.com/siherrmann/memoir/store"
)

// EntitiesDBHandler handles entity-related database operations. It
// implements store.EntityStore with optimistic concurrency on updates.
type EntitiesDBHandler struct {
	db *helper.Database
}

// Guarantee the store contracts at compile time.
var _ store.EntityStore = &EntitiesDBHandler{}
var _ store.TxRunner = &EntitiesDBHandler{}

// NewEntitiesDBHandler creates a new entities database handler.
// It initializes the database connection and loads entity-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEntitiesDBHandler(db *helper.Database, force bool) (*EntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	entitiesDbHandler := &EntitiesDBHandler{
		db: db,
	}

	err := memoirsql.LoadEntitiesSql(entitiesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entities sql", err)
	}

	err = entitiesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntitiesDBHandler")

	return entitiesDbHandler, nil
}

// CreateTable creates the 'entities' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *EntitiesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entities();`)
	if err != nil {
		log.Panicf("error initializing entities table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table entities")

	return nil
}

// Atomically runs fn inside one database transaction. All handlers share
// the wrapped connection, so every statement fn issues through them joins
// the transaction and an error rolls all of them back together.
func (h *EntitiesDBHandler) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return h.db.Atomically(ctx, fn)
}

// InsertEntity inserts a new entity
func (h *EntitiesDBHandler) InsertEntity(ctx context.Context, entity *model.Entity) error {
	var id any
	if entity.ID != uuid.Nil {
		id = entity.ID
	}
	row := h.db.Querier().QueryRowContext(ctx,
		`SELECT * FROM insert_entity($1, $2, $3, $4, $5, $6)`,
		id,
		entity.TypeRef.Name,
		entity.TypeRef.Version,
		entity.Properties,
		pq.Array(entity.Aliases),
		pq.Array(uuidStrings(entity.Provenance)),
	)

	err := scanEntity(row, entity)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectEntity retrieves an entity by id
func (h *EntitiesDBHandler) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	entity := &model.Entity{}
	row := h.db.Querier().QueryRowContext(ctx,
		`SELECT * FROM select_entity($1)`,
		id,
	)

	err := scanEntity(row, entity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return entity, nil
}

// SelectEntitiesByType retrieves all entities of a type
func (h *EntitiesDBHandler) SelectEntitiesByType(ctx context.Context, typeName string) ([]*model.Entity, error) {
	rows, err := h.db.Querier().QueryContext(ctx,
		`SELECT * FROM select_entities_by_type($1)`,
		typeName,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// SelectAllEntities retrieves every entity ordered by id
func (h *EntitiesDBHandler) SelectAllEntities(ctx context.Context) ([]*model.Entity, error) {
	rows, err := h.db.Querier().QueryContext(ctx,
		`SELECT * FROM select_all_entities()`,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// UpdateEntity applies an update read at expectedVersion. A stale version
// fails with model.ErrConcurrencyConflict; the row is never overwritten.
func (h *EntitiesDBHandler) UpdateEntity(ctx context.Context, entity *model.Entity, expectedVersion int64) error {
	row := h.db.Querier().QueryRowContext(ctx,
		`SELECT * FROM update_entity($1, $2, $3, $4, $5, $6)`,
		entity.ID,
		expectedVersion,
		entity.TypeRef.Version,
		entity.Properties,
		pq.Array(entity.Aliases),
		pq.Array(uuidStrings(entity.Provenance)),
	)

	err := row.Scan(
		&entity.ID,
		&entity.Version,
		&entity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a vanished entity from a stale read.
		if _, selectErr := h.SelectEntity(ctx, entity.ID); selectErr != nil {
			return selectErr
		}
		return fmt.Errorf("entity %s update read version %d: %w",
			entity.ID, expectedVersion, model.ErrConcurrencyConflict)
	}
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntity(row scannable, entity *model.Entity) error {
	var aliases pq.StringArray
	var provenance pq.StringArray

	err := row.Scan(
		&entity.ID,
		&entity.TypeRef.Name,
		&entity.TypeRef.Version,
		&entity.Properties,
		&aliases,
		&provenance,
		&entity.Version,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return err
	}

	entity.Aliases = aliases
	entity.Provenance, err = parseUUIDs(provenance)
	return err
}

func collectEntities(rows *sql.Rows) ([]*model.Entity, error) {
	var entities []*model.Entity
	for rows.Next() {
		entity := &model.Entity{}
		if err := scanEntity(rows, entity); err != nil {
			return nil, helper.NewError("scan", err)
		}
		entities = append(entities, entity)
	}

	err := rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return entities, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q: %w", s, err)
		}
		out[i] = id
	}
	return out, nil
}
