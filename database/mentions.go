package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	memoirsql "github.com/siherrmann/memoir/sql"
	"github.com/siherrmann/memoir/store"
)

// MentionsDBHandler records mentions and their resolution outcomes. It
// implements store.MentionStore.
type MentionsDBHandler struct {
	db *helper.Database
}

var _ store.MentionStore = &MentionsDBHandler{}

// NewMentionsDBHandler creates a new mentions database handler.
// It initializes the database connection and loads mention-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewMentionsDBHandler(db *helper.Database, force bool) (*MentionsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	mentionsDbHandler := &MentionsDBHandler{
		db: db,
	}

	err := memoirsql.LoadMentionsSql(mentionsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load mentions sql", err)
	}

	err = mentionsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized MentionsDBHandler")

	return mentionsDbHandler, nil
}

// CreateTable creates the 'mentions' table in the database.
// If the table already exists, it does not create it again.
func (h *MentionsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_mentions();`)
	if err != nil {
		log.Panicf("error initializing mentions table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table mentions")

	return nil
}

// InsertMention records a mention with its resolution outcome
func (h *MentionsDBHandler) InsertMention(ctx context.Context, mention *model.Mention, outcome model.ResolutionOutcome) error {
	var id any
	if mention.ID != uuid.Nil {
		id = mention.ID
	}
	row := h.db.Querier().QueryRowContext(ctx,
		`SELECT * FROM insert_mention($1, $2, $3, $4, $5, $6, $7)`,
		id,
		mention.RawText,
		mention.CandidateName,
		mention.TypeHint,
		mention.Context,
		mention.Source,
		string(outcome),
	)

	err := row.Scan(
		&mention.ID,
		&mention.CreatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// UpdateMentionOutcome records a state transition for a mention
func (h *MentionsDBHandler) UpdateMentionOutcome(ctx context.Context, mentionID uuid.UUID, outcome model.ResolutionOutcome) error {
	_, err := h.db.Querier().ExecContext(ctx,
		`SELECT update_mention_outcome($1, $2)`,
		mentionID,
		string(outcome),
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
