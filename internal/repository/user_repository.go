package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// UserRepository is the user directory used for ownership and credit checks
type UserRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.Database, logger logger.Logger) *UserRepository {
	return &UserRepository{db: db.DB, logger: logger}
}

// WithTx returns a copy of the repository bound to tx
func (r *UserRepository) WithTx(tx *sqlx.Tx) *UserRepository {
	return &UserRepository{db: tx, logger: r.logger}
}

// Create inserts a user
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	err := exec(ctx, r.db, false,
		`INSERT INTO users (id, name, email, phone, credit_limit, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.Phone, u.CreditLimit, u.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create user", "error", err, "userID", u.ID)
	}
	return err
}

// GetByID retrieves a user
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := get(ctx, r.db, &u, `SELECT id, name, email, phone, credit_limit, created_at FROM users WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &u, nil
}
