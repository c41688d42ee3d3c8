package sync

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkovacs/mailroom/internal/db"
	"github.com/mkovacs/mailroom/internal/models"
)

// Store is the persistence surface the orchestrator drives. Bundling the
// folder and message queries behind one interface keeps the sync loop
// testable without a database.
type Store interface {
	CountFolders(ctx context.Context, accountID string) (int, error)
	UpsertFolder(ctx context.Context, folder *models.Folder) error
	ListFolders(ctx context.Context, accountID string) ([]*models.Folder, error)
	GetFolderByPath(ctx context.Context, accountID, path string) (*models.Folder, error)
	DeleteFolder(ctx context.Context, folderID string) error
	UpdateFolderCounts(ctx context.Context, folderID string, unread, total int) error

	UpsertMessage(ctx context.Context, msg *models.Message) (string, error)
	MoveMessage(ctx context.Context, id, destFolderID string) error
	UpdateSpamScore(ctx context.Context, id string, score float64, checkedAt time.Time) error
	ListMissingBody(ctx context.Context, folderID string, limit int) ([]*models.Message, error)
	DeleteAllInFolder(ctx context.Context, folderID string) error
}

type dbStore struct {
	pool     *pgxpool.Pool
	messages *db.MessageStore
}

// NewStore wires the orchestrator's Store onto the database layer.
func NewStore(pool *pgxpool.Pool, messages *db.MessageStore) Store {
	return &dbStore{pool: pool, messages: messages}
}

func (s *dbStore) CountFolders(ctx context.Context, accountID string) (int, error) {
	return db.CountFolders(ctx, s.pool, accountID)
}

func (s *dbStore) UpsertFolder(ctx context.Context, folder *models.Folder) error {
	return db.UpsertFolder(ctx, s.pool, folder)
}

func (s *dbStore) ListFolders(ctx context.Context, accountID string) ([]*models.Folder, error) {
	return db.ListFolders(ctx, s.pool, accountID)
}

func (s *dbStore) GetFolderByPath(ctx context.Context, accountID, path string) (*models.Folder, error) {
	return db.GetFolderByPath(ctx, s.pool, accountID, path)
}

func (s *dbStore) DeleteFolder(ctx context.Context, folderID string) error {
	return db.DeleteFolder(ctx, s.pool, folderID)
}

func (s *dbStore) UpdateFolderCounts(ctx context.Context, folderID string, unread, total int) error {
	return db.UpdateFolderCounts(ctx, s.pool, folderID, unread, total)
}

func (s *dbStore) UpsertMessage(ctx context.Context, msg *models.Message) (string, error) {
	return s.messages.Upsert(ctx, msg)
}

func (s *dbStore) MoveMessage(ctx context.Context, id, destFolderID string) error {
	return s.messages.Move(ctx, id, destFolderID)
}

func (s *dbStore) UpdateSpamScore(ctx context.Context, id string, score float64, checkedAt time.Time) error {
	return s.messages.UpdateSpamScore(ctx, id, score, checkedAt)
}

func (s *dbStore) ListMissingBody(ctx context.Context, folderID string, limit int) ([]*models.Message, error) {
	return s.messages.ListMissingBody(ctx, folderID, limit)
}

func (s *dbStore) DeleteAllInFolder(ctx context.Context, folderID string) error {
	return s.messages.DeleteAllInFolder(ctx, folderID)
}
