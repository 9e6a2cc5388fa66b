package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	memoirsql "github.com/siherrmann/memoir/sql"
	"github.com/siherrmann/memoir/store"
)

// LinksDBHandler persists forward wiki links. It implements
// store.LinkStore; backlinks are derived by the in-memory index.
type LinksDBHandler struct {
	db *helper.Database
}

var _ store.LinkStore = &LinksDBHandler{}

// NewLinksDBHandler creates a new links database handler.
// It initializes the database connection and loads link-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewLinksDBHandler(db *helper.Database, force bool) (*LinksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	linksDbHandler := &LinksDBHandler{
		db: db,
	}

	err := memoirsql.LoadLinksSql(linksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load links sql", err)
	}

	err = linksDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized LinksDBHandler")

	return linksDbHandler, nil
}

// CreateTable creates the 'links' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *LinksDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_links();`)
	if err != nil {
		log.Panicf("error initializing links table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table links")

	return nil
}

type linkRow struct {
	ID         string  `json:"id,omitempty"`
	AnchorText string  `json:"anchor_text"`
	TargetKind string  `json:"target_kind"`
	TargetID   *string `json:"target_id,omitempty"`
}

// ReplaceDocumentLinks atomically replaces the forward-link set of a
// source document
func (h *LinksDBHandler) ReplaceDocumentLinks(ctx context.Context, sourceDocID uuid.UUID, links []*model.WikiLink) error {
	rows := make([]linkRow, len(links))
	for i, link := range links {
		if link.ID == uuid.Nil {
			link.ID = uuid.New()
		}
		rows[i] = linkRow{
			ID:         link.ID.String(),
			AnchorText: link.AnchorText,
			TargetKind: string(link.TargetKind),
		}
		if link.TargetID != uuid.Nil {
			target := link.TargetID.String()
			rows[i].TargetID = &target
		}
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return helper.NewError("marshal links", err)
	}

	_, err = h.db.Querier().ExecContext(ctx,
		`SELECT replace_document_links($1, $2)`,
		sourceDocID,
		payload,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// SelectAllLinks retrieves every persisted forward link
func (h *LinksDBHandler) SelectAllLinks(ctx context.Context) ([]*model.WikiLink, error) {
	rows, err := h.db.Querier().QueryContext(ctx,
		`SELECT * FROM select_all_links()`,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var links []*model.WikiLink
	for rows.Next() {
		link := &model.WikiLink{}
		var targetID sql.NullString
		err := rows.Scan(
			&link.ID,
			&link.SourceDocID,
			&link.AnchorText,
			&link.TargetKind,
			&targetID,
			&link.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		if targetID.Valid {
			link.TargetID, err = uuid.Parse(targetID.String)
			if err != nil {
				return nil, helper.NewError("parse target id", err)
			}
		}

		links = append(links, link)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return links, nil
}

// UpdateLink upgrades a pending stub in place
func (h *LinksDBHandler) UpdateLink(ctx context.Context, link *model.WikiLink) error {
	var targetID any
	if link.TargetID != uuid.Nil {
		targetID = link.TargetID
	}
	_, err := h.db.Querier().ExecContext(ctx,
		`SELECT update_link($1, $2, $3)`,
		link.ID,
		string(link.TargetKind),
		targetID,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
