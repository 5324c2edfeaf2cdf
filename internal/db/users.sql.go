package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id, name, email, password_hash, roles, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var i User
	err := row.Scan(&i.ID, &i.Name, &i.Email, &i.PasswordHash, &i.Roles, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const createUser = `INSERT INTO users (name, email, password_hash, roles)
VALUES ($1, $2, $3, $4)
RETURNING ` + userColumns

type CreateUserParams struct {
	Name         string
	Email        string
	PasswordHash string
	Roles        []string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	roles := arg.Roles
	if len(roles) == 0 {
		roles = []string{"customer"}
	}
	return scanUser(q.db.QueryRow(ctx, createUser, arg.Name, arg.Email, arg.PasswordHash, roles))
}

const getUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = $1`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByEmail, email))
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id pgtype.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByID, id))
}

const upsertUserRoles = `UPDATE users SET roles = $2, updated_at = now() WHERE email = $1 RETURNING ` + userColumns

func (q *Queries) SetUserRoles(ctx context.Context, email string, roles []string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, upsertUserRoles, email, roles))
}
