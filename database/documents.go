package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	memoirsql "github.com/siherrmann/memoir/sql"
	"github.com/siherrmann/memoir/store"
)

// DocumentsDBHandler handles scratchpad document operations. It implements
// store.DocumentStore; the embedding column is optional per document.
type DocumentsDBHandler struct {
	db           *helper.Database
	embeddingDim int
}

var _ store.DocumentStore = &DocumentsDBHandler{}

// NewDocumentsDBHandler creates a new documents database handler for the
// given embedding dimensionality.
// It initializes the database connection and loads document-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewDocumentsDBHandler(db *helper.Database, embeddingDim int, force bool) (*DocumentsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	documentsDbHandler := &DocumentsDBHandler{
		db:           db,
		embeddingDim: embeddingDim,
	}

	err := memoirsql.LoadDocumentsSql(documentsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load documents sql", err)
	}

	err = documentsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized DocumentsDBHandler")

	return documentsDbHandler, nil
}

// CreateTable creates the 'documents' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *DocumentsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_documents($1);`, h.embeddingDim)
	if err != nil {
		log.Panicf("error initializing documents table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table documents")

	return nil
}

// UpsertDocument inserts a document or updates it in place by id
func (h *DocumentsDBHandler) UpsertDocument(ctx context.Context, doc *model.ScratchpadDocument) error {
	var id any
	if doc.ID != uuid.Nil {
		id = doc.ID
	}
	var embedding any
	if len(doc.Embedding) > 0 {
		embedding = pgvector.NewVector(doc.Embedding)
	}

	row := h.db.Querier().QueryRowContext(ctx,
		`SELECT * FROM upsert_document($1, $2, $3, $4, $5)`,
		id,
		doc.Title,
		doc.Body,
		doc.Metadata,
		embedding,
	)

	err := scanDocument(row, doc)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectDocument retrieves a document by id
func (h *DocumentsDBHandler) SelectDocument(ctx context.Context, id uuid.UUID) (*model.ScratchpadDocument, error) {
	doc := &model.ScratchpadDocument{}
	row := h.db.Querier().QueryRowContext(ctx,
		`SELECT * FROM select_document($1)`,
		id,
	)

	err := scanDocument(row, doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// SelectDocumentByTitle retrieves a document by its unique title
func (h *DocumentsDBHandler) SelectDocumentByTitle(ctx context.Context, title string) (*model.ScratchpadDocument, error) {
	doc := &model.ScratchpadDocument{}
	row := h.db.Querier().QueryRowContext(ctx,
		`SELECT * FROM select_document_by_title($1)`,
		title,
	)

	err := scanDocument(row, doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", title, model.ErrNotFound)
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// SelectAllDocuments retrieves every document ordered by id
func (h *DocumentsDBHandler) SelectAllDocuments(ctx context.Context) ([]*model.ScratchpadDocument, error) {
	rows, err := h.db.Querier().QueryContext(ctx,
		`SELECT * FROM select_all_documents()`,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var docs []*model.ScratchpadDocument
	for rows.Next() {
		doc := &model.ScratchpadDocument{}
		if err := scanDocument(rows, doc); err != nil {
			return nil, helper.NewError("scan", err)
		}
		docs = append(docs, doc)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return docs, nil
}

// SelectDocumentsBySimilarity retrieves the closest embedded documents to
// the query embedding, best match first
func (h *DocumentsDBHandler) SelectDocumentsBySimilarity(ctx context.Context, embedding []float32, limit int) ([]*model.ScratchpadDocument, []float64, error) {
	rows, err := h.db.Querier().QueryContext(ctx,
		`SELECT * FROM select_documents_by_similarity($1, $2)`,
		pgvector.NewVector(embedding),
		limit,
	)
	if err != nil {
		return nil, nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var docs []*model.ScratchpadDocument
	var similarities []float64
	for rows.Next() {
		doc := &model.ScratchpadDocument{}
		var stored sql.Null[pgvector.Vector]
		var similarity float64
		err := rows.Scan(
			&doc.ID,
			&doc.Title,
			&doc.Body,
			&doc.Metadata,
			&stored,
			&doc.CreatedAt,
			&doc.LastModified,
			&similarity,
		)
		if err != nil {
			return nil, nil, helper.NewError("scan", err)
		}
		if stored.Valid {
			doc.Embedding = stored.V.Slice()
		}

		docs = append(docs, doc)
		similarities = append(similarities, similarity)
	}

	err = rows.Err()
	if err != nil {
		return nil, nil, helper.NewError("rows error", err)
	}

	return docs, similarities, nil
}

func scanDocument(row scannable, doc *model.ScratchpadDocument) error {
	var embedding sql.Null[pgvector.Vector]

	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Body,
		&doc.Metadata,
		&embedding,
		&doc.CreatedAt,
		&doc.LastModified,
	)
	if err != nil {
		return err
	}

	if embedding.Valid {
		doc.Embedding = embedding.V.Slice()
	} else {
		doc.Embedding = nil
	}
	return nil
}
