package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/placeshare/internal/domain"
	"github.com/splax/placeshare/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.Store   = (*Repository)(nil)
	_ repository.PlaceTx = (*txRepository)(nil)
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ping checks the pool can reach the database.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases pooled connections.
func (r *Repository) Close() {
	r.pool.Close()
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, name, email, password_hash, image, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, string(user.ID), user.Name, user.Email, user.PasswordHash, user.Image, user.CreatedAt)
	return translate(err)
}

const userColumns = `u.id, u.name, u.email, u.password_hash, u.image, u.created_at,
	COALESCE(array_agg(up.place_id ORDER BY up.position) FILTER (WHERE up.place_id IS NOT NULL), '{}')`

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users u LEFT JOIN user_places up ON up.user_id = u.id
		WHERE u.email = $1
		GROUP BY u.id`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users u LEFT JOIN user_places up ON up.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id`
	return scanUser(r.pool.QueryRow(ctx, query, string(id)))
}

// ListUsers returns every user with their place ids. Password hashes are not selected.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	const query = `SELECT u.id, u.name, u.email, u.image, u.created_at,
			COALESCE(array_agg(up.place_id ORDER BY up.position) FILTER (WHERE up.place_id IS NOT NULL), '{}')
		FROM users u LEFT JOIN user_places up ON up.user_id = u.id
		GROUP BY u.id
		ORDER BY u.created_at, u.id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var (
			u      domain.User
			id     string
			places []string
		)
		if err := rows.Scan(&id, &u.Name, &u.Email, &u.Image, &u.CreatedAt, &places); err != nil {
			return nil, err
		}
		u.ID = domain.UserID(id)
		u.Places = placeIDs(places)
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetPlaceByID fetches a place.
func (r *Repository) GetPlaceByID(ctx context.Context, id domain.PlaceID) (*domain.Place, error) {
	return getPlace(ctx, r.pool, id, false)
}

// ListPlacesByCreator returns the places owned by userID, oldest first.
func (r *Repository) ListPlacesByCreator(ctx context.Context, userID domain.UserID) ([]domain.Place, error) {
	const query = `SELECT id, title, description, address, image, creator_id, created_at
		FROM places WHERE creator_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, string(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	places := make([]domain.Place, 0)
	for rows.Next() {
		place, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		places = append(places, *place)
	}
	return places, rows.Err()
}

// InTx runs fn inside a single database transaction.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.PlaceTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txRepository struct {
	tx pgx.Tx
}

// InsertPlace stores a new place row.
func (t *txRepository) InsertPlace(ctx context.Context, place *domain.Place) error {
	const query = `INSERT INTO places (id, title, description, address, image, creator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := t.tx.Exec(ctx, query,
		string(place.ID),
		place.Title,
		place.Description,
		place.Address,
		place.Image,
		string(place.Creator),
		place.CreatedAt,
	)
	return translate(err)
}

// AppendUserPlace adds placeID to the end of the user's place set.
func (t *txRepository) AppendUserPlace(ctx context.Context, userID domain.UserID, placeID domain.PlaceID) error {
	const query = `INSERT INTO user_places (user_id, place_id) VALUES ($1, $2)`
	_, err := t.tx.Exec(ctx, query, string(userID), string(placeID))
	return translate(err)
}

// LockPlace reads the place with a row lock held until commit or rollback.
func (t *txRepository) LockPlace(ctx context.Context, id domain.PlaceID) (*domain.Place, error) {
	return getPlace(ctx, t.tx, id, true)
}

// UpdatePlace writes the mutable columns of place.
func (t *txRepository) UpdatePlace(ctx context.Context, place *domain.Place) error {
	const query = `UPDATE places SET title = $2, description = $3 WHERE id = $1`
	tag, err := t.tx.Exec(ctx, query, string(place.ID), place.Title, place.Description)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RemoveUserPlace drops placeID from the user's place set.
func (t *txRepository) RemoveUserPlace(ctx context.Context, userID domain.UserID, placeID domain.PlaceID) error {
	const query = `DELETE FROM user_places WHERE user_id = $1 AND place_id = $2`
	tag, err := t.tx.Exec(ctx, query, string(userID), string(placeID))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeletePlace removes the place row.
func (t *txRepository) DeletePlace(ctx context.Context, id domain.PlaceID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM places WHERE id = $1`, string(id))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func getPlace(ctx context.Context, q querier, id domain.PlaceID, lock bool) (*domain.Place, error) {
	query := `SELECT id, title, description, address, image, creator_id, created_at
		FROM places WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	place, err := scanPlace(q.QueryRow(ctx, query, string(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return place, nil
}

func scanPlace(row pgx.Row) (*domain.Place, error) {
	var (
		p         domain.Place
		id        string
		creatorID string
		createdAt time.Time
	)
	if err := row.Scan(&id, &p.Title, &p.Description, &p.Address, &p.Image, &creatorID, &createdAt); err != nil {
		return nil, err
	}
	p.ID = domain.PlaceID(id)
	p.Creator = domain.UserID(creatorID)
	p.CreatedAt = createdAt.UTC()
	return &p, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u      domain.User
		id     string
		places []string
	)
	if err := row.Scan(&id, &u.Name, &u.Email, &u.PasswordHash, &u.Image, &u.CreatedAt, &places); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	u.ID = domain.UserID(id)
	u.Places = placeIDs(places)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func placeIDs(ids []string) []domain.PlaceID {
	out := make([]domain.PlaceID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.PlaceID(id))
	}
	return out
}

// translate maps constraint violations onto repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
