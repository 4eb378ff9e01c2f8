package repository

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hai-surveillance-server/internal/domain"
)

// Store is the PostgreSQL-backed implementation of domain.Store
type Store struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewStore creates a new PostgreSQL store
func NewStore(db *pgxpool.Pool, logger *logrus.Logger) *Store {
	return &Store{
		db:  db,
		log: logger,
	}
}

var _ domain.Store = (*Store)(nil)

func marshalJSON(v any, what string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", what, err)
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any, what string) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding %s: %w", what, err)
	}
	return nil
}
