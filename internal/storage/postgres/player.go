package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Player is a persisted player record.
type Player struct {
	ID              string
	UID             int64
	Username        string
	PasswordHash    string
	Token           string
	HardwareID      string
	Coins           int64
	Rating          int
	PlayTimeMinutes int64
	CreatedAt       time.Time
}

var (
	// ErrPlayerNotFound is returned when a player lookup yields no results.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrPlayerExists is returned when attempting to create a duplicate username.
	ErrPlayerExists = errors.New("player already exists")
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownField is returned by UpdateField for columns outside the whitelist.
	ErrUnknownField = errors.New("unknown player field")
	// ErrInvalidAmount is returned for non-positive transfers or self transfers.
	ErrInvalidAmount = errors.New("invalid transfer amount")
	// ErrInsufficientFunds is returned when the sender cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 5 * time.Minute
	createAttempts   = 5

	playerColumns = `id, uid, username, password_hash, token, hwid, coins, rating, play_time_minutes, created_at`
)

// updatableFields maps UpdateField names to their columns.
var updatableFields = map[string]string{
	"username":          "username",
	"password_hash":     "password_hash",
	"token":             "token",
	"hwid":              "hwid",
	"coins":             "coins",
	"rating":            "rating",
	"play_time_minutes": "play_time_minutes",
}

// PlayerRepository provides player persistence with a read-through cache
// over point lookups.
type PlayerRepository struct {
	db    *pgxpool.Pool
	cache *expirable.LRU[string, Player]
	locks *KeyedLocker
}

// NewPlayerRepository creates a PlayerRepository backed by the given pool.
// Non-positive cacheSize or cacheTTL fall back to 4096 keys and five minutes.
//
// Precondition: db must be a valid, open connection pool.
func NewPlayerRepository(db *pgxpool.Pool, cacheSize int, cacheTTL time.Duration) *PlayerRepository {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &PlayerRepository{
		db:    db,
		cache: expirable.NewLRU[string, Player](cacheSize, nil, cacheTTL),
		locks: NewKeyedLocker(),
	}
}

// Create inserts a new player with a fresh id, token and the lowest free uid.
// An empty password creates a token-only player that cannot log in by password.
//
// Precondition: username must be non-empty.
// Postcondition: Returns the created Player, or ErrPlayerExists if the
// username is taken.
func (r *PlayerRepository) Create(ctx context.Context, username, password, hwid string) (Player, error) {
	hash := ""
	if password != "" {
		var err error
		if hash, err = HashPassword(password); err != nil {
			return Player{}, fmt.Errorf("hashing password: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		uid, err := r.NextFreeUID(ctx)
		if err != nil {
			return Player{}, err
		}
		p, err := scanPlayer(r.db.QueryRow(ctx,
			`INSERT INTO players (id, uid, username, password_hash, token, hwid)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+playerColumns,
			uuid.NewString(), uid, username, hash, uuid.NewString(), hwid,
		))
		if err == nil {
			r.store(p)
			return p, nil
		}
		switch constraintViolated(err) {
		case "players_username_key":
			return Player{}, ErrPlayerExists
		case "players_uid_key":
			// Another insert claimed the same gap; rescan.
			if attempt+1 < createAttempts {
				continue
			}
		}
		return Player{}, fmt.Errorf("inserting player: %w", err)
	}
}

// GetByID retrieves a player by primary key.
//
// Postcondition: Returns the Player or ErrPlayerNotFound.
func (r *PlayerRepository) GetByID(ctx context.Context, id string) (Player, error) {
	return r.get(ctx, idKey(id), "id", id)
}

// GetByToken retrieves a player by login token.
//
// Postcondition: Returns the Player or ErrPlayerNotFound.
func (r *PlayerRepository) GetByToken(ctx context.Context, token string) (Player, error) {
	return r.get(ctx, tokenKey(token), "token", token)
}

// GetByUID retrieves a player by numeric uid.
//
// Postcondition: Returns the Player or ErrPlayerNotFound.
func (r *PlayerRepository) GetByUID(ctx context.Context, uid int64) (Player, error) {
	return r.get(ctx, uidKey(uid), "uid", uid)
}

// GetByUsername retrieves a player by username.
//
// Postcondition: Returns the Player or ErrPlayerNotFound.
func (r *PlayerRepository) GetByUsername(ctx context.Context, username string) (Player, error) {
	return r.get(ctx, usernameKey(username), "username", username)
}

// get serves key from the cache or loads the row where column = value.
// column is always one of the literals passed by the GetBy methods.
func (r *PlayerRepository) get(ctx context.Context, key, column string, value any) (Player, error) {
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}
	p, err := scanPlayer(r.db.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Player{}, ErrPlayerNotFound
		}
		return Player{}, fmt.Errorf("querying player by %s: %w", column, err)
	}
	r.store(p)
	return p, nil
}

// Authenticate verifies credentials and returns the matching player.
//
// Postcondition: Returns the Player if credentials are valid,
// ErrPlayerNotFound if the username doesn't exist,
// or ErrInvalidCredentials if the password is wrong or the player has none.
func (r *PlayerRepository) Authenticate(ctx context.Context, username, password string) (Player, error) {
	p, err := r.GetByUsername(ctx, username)
	if err != nil {
		return Player{}, err
	}
	if p.PasswordHash == "" || !CheckPassword(password, p.PasswordHash) {
		return Player{}, ErrInvalidCredentials
	}
	return p, nil
}

// UpdateField sets one whitelisted column and drops the player's cached lookups.
//
// Postcondition: Returns ErrUnknownField for columns outside the whitelist,
// ErrPlayerNotFound if no row matched, or ErrPlayerExists when a unique
// column would collide.
func (r *PlayerRepository) UpdateField(ctx context.Context, id, field string, value any) error {
	column, ok := updatableFields[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	defer r.invalidate(id)

	tag, err := r.db.Exec(ctx, `UPDATE players SET `+column+` = $1 WHERE id = $2`, value, id)
	if err != nil {
		if constraintViolated(err) != "" {
			return ErrPlayerExists
		}
		return fmt.Errorf("updating player %s: %w", field, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// UpdateRating stores a new skill rating.
func (r *PlayerRepository) UpdateRating(ctx context.Context, id string, rating int) error {
	return r.UpdateField(ctx, id, "rating", rating)
}

// AddPlayTime adds minutes to the player's accumulated play time.
// Non-positive minutes are ignored.
//
// Postcondition: Returns ErrPlayerNotFound if no row matched.
func (r *PlayerRepository) AddPlayTime(ctx context.Context, id string, minutes int64) error {
	if minutes <= 0 {
		return nil
	}
	defer r.invalidate(id)

	tag, err := r.db.Exec(ctx,
		`UPDATE players SET play_time_minutes = play_time_minutes + $1 WHERE id = $2`,
		minutes, id,
	)
	if err != nil {
		return fmt.Errorf("adding play time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// NextFreeUID returns the lowest positive uid not assigned to any player.
func (r *PlayerRepository) NextFreeUID(ctx context.Context) (int64, error) {
	rows, err := r.db.Query(ctx, `SELECT uid FROM players ORDER BY uid`)
	if err != nil {
		return 0, fmt.Errorf("scanning uids: %w", err)
	}
	uids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("scanning uids: %w", err)
	}
	return firstFreeUID(uids), nil
}

// firstFreeUID returns the first gap in an ascending uid list, starting at 1.
func firstFreeUID(sorted []int64) int64 {
	next := int64(1)
	for _, uid := range sorted {
		if uid > next {
			break
		}
		if uid == next {
			next++
		}
	}
	return next
}

// TransferCoins moves amount coins from one player to another atomically.
// Both players are locked in lexicographic id order, in process and in the
// database, so concurrent opposite transfers cannot deadlock.
//
// Precondition: amount > 0 and fromID != toID.
// Postcondition: Either both balances change or neither does. Returns
// ErrInsufficientFunds, ErrPlayerNotFound, or ErrInvalidAmount on refusal.
func (r *PlayerRepository) TransferCoins(ctx context.Context, fromID, toID string, amount int64) (err error) {
	if amount <= 0 || fromID == toID {
		return ErrInvalidAmount
	}
	unlock := r.locks.LockPair(fromID, toID)
	defer unlock()
	defer func() {
		r.invalidate(fromID)
		r.invalidate(toID)
	}()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transfer: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	first, second := OrderedKeys(fromID, toID)
	for _, key := range []string{first, second} {
		if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("locking player %s: %w", key, err)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE players SET coins = coins - $1 WHERE id = $2 AND coins >= $1`,
		amount, fromID,
	)
	if err != nil {
		return fmt.Errorf("debiting sender: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var balance int64
		if qerr := tx.QueryRow(ctx, `SELECT coins FROM players WHERE id = $1`, fromID).Scan(&balance); errors.Is(qerr, pgx.ErrNoRows) {
			return ErrPlayerNotFound
		}
		return ErrInsufficientFunds
	}

	tag, err = tx.Exec(ctx, `UPDATE players SET coins = coins + $1 WHERE id = $2`, amount, toID)
	if err != nil {
		return fmt.Errorf("crediting receiver: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transfer: %w", err)
	}
	return nil
}

func (r *PlayerRepository) store(p Player) {
	for _, key := range cacheKeys(p) {
		r.cache.Add(key, p)
	}
}

// invalidate drops every cached key of the player with the given id.
func (r *PlayerRepository) invalidate(id string) {
	if p, ok := r.cache.Peek(idKey(id)); ok {
		for _, key := range cacheKeys(p) {
			r.cache.Remove(key)
		}
	}
	r.cache.Remove(idKey(id))
}

func cacheKeys(p Player) []string {
	return []string{idKey(p.ID), tokenKey(p.Token), uidKey(p.UID), usernameKey(p.Username)}
}

func idKey(id string) string { return "id:" + id }
func tokenKey(token string) string { return "token:" + token }
func uidKey(uid int64) string { return "uid:" + strconv.FormatInt(uid, 10) }
func usernameKey(name string) string { return "username:" + name }

func scanPlayer(row pgx.Row) (Player, error) {
	var p Player
	err := row.Scan(&p.ID, &p.UID, &p.Username, &p.PasswordHash, &p.Token,
		&p.HardwareID, &p.Coins, &p.Rating, &p.PlayTimeMinutes, &p.CreatedAt)
	return p, err
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// constraintViolated returns the constraint named by a unique violation
// (SQLSTATE 23505), or "" for any other error.
func constraintViolated(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "" {
			return "unique"
		}
		return pgErr.ConstraintName
	}
	return ""
}
