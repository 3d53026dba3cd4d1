// Package db is the SQLite implementation of storage.Provider. It also keeps
// the outbound delivery log.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/storage"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const (
	kindFollower  = "follower"
	kindFollowing = "following"
)

// DB is the database struct.
type DB struct {
	db     *sql.DB
	logger *log.Logger
}

var _ storage.Provider = (*DB)(nil)

const (
	sqlInsertAccount = `INSERT INTO accounts(id, username, display_name, bio, join_date, icon_image, header_image, web_public_key, web_private_key, created_at)
                        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateAccount = `UPDATE accounts SET display_name = ?, bio = ?, join_date = ?, icon_image = ?, header_image = ?, web_public_key = ?, web_private_key = ?
                        WHERE username = ?`
	sqlSelectAccountByUsername = `SELECT id, username, display_name, bio, join_date, icon_image, header_image, web_public_key, web_private_key
                                  FROM accounts WHERE username = ?`
	sqlSelectAccountId = `SELECT id FROM accounts WHERE username = ?`
	sqlSelectAccounts  = `SELECT username, display_name FROM accounts`

	sqlSelectRelations = `SELECT kind, instance, account_uri FROM relations WHERE account_id = ? ORDER BY created_at, rowid`
	sqlInsertRelation  = `INSERT OR IGNORE INTO relations(id, account_id, kind, instance, account_uri) VALUES (?, ?, ?, ?, ?)`
	sqlDeleteRelation  = `DELETE FROM relations WHERE account_id = ? AND kind = ? AND instance = ? AND account_uri = ?`

	sqlUpsertPost = `INSERT INTO posts(id, account_id, token, object_uri, published, document) VALUES (?, ?, ?, ?, ?, ?)
                     ON CONFLICT(account_id, token) DO UPDATE SET object_uri = excluded.object_uri, published = excluded.published, document = excluded.document`
	sqlSelectPostDocument = `SELECT posts.document FROM posts INNER JOIN accounts ON accounts.id = posts.account_id
                             WHERE accounts.username = ? AND posts.token = ?`
	sqlSelectPostIds = `SELECT posts.object_uri FROM posts INNER JOIN accounts ON accounts.id = posts.account_id
                        WHERE accounts.username = ? ORDER BY posts.published, posts.object_uri`

	sqlInsertLike = `INSERT OR IGNORE INTO likes(id, account_id, token, actor_uri, activity_uri) VALUES (?, ?, ?, ?, ?)`
	sqlDeleteLike = `DELETE FROM likes WHERE account_id = ? AND token = ? AND actor_uri = ?`

	sqlInsertDelivery  = `INSERT INTO deliveries(id, activity_uri, instance, inbox_uri, status, error, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectDeliveries = `SELECT activity_uri, instance, inbox_uri, status, error, duration_ms, created_at FROM deliveries
                           ORDER BY created_at DESC LIMIT ?`
)

// Open opens (or creates) the database at path and runs the migrations.
func Open(path string, logger *log.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// every connection would get its own empty database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			logger.Warn("Failed to enable WAL mode", "err", err)
		} else {
			logger.Debug("Database journal mode", "mode", journalMode)
		}
	}

	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			logger.Warn("Failed to set pragma", "pragma", pragma, "err", err)
		}
	}

	db := &DB{db: sqlDB, logger: logger}
	if err := db.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("Database initialized", "path", path)
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) HasUser(username string) (bool, error) {
	var id string
	err := db.db.QueryRow(sqlSelectAccountId, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (db *DB) GetUser(username string) (*domain.User, error) {
	var u *domain.User
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		var err error
		u, err = db.readUser(tx, username)
		return err
	})
	return u, err
}

func (db *DB) readUser(tx *sql.Tx, username string) (*domain.User, error) {
	var id string
	var bio, joinDate, icon, header sql.NullString
	u := &domain.User{}
	err := tx.QueryRow(sqlSelectAccountByUsername, username).Scan(
		&id, &u.Username, &u.Name, &bio, &joinDate, &icon, &header, &u.PublicKey, &u.PrivateKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.AccountNotFound(username)
	}
	if err != nil {
		return nil, err
	}
	u.Bio = bio.String
	u.JoinDate = joinDate.String
	u.IconImage = icon.String
	u.HeaderImage = header.String
	u.Followers = domain.Relations{}
	u.Following = domain.Relations{}

	rows, err := tx.Query(sqlSelectRelations, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind, instance, account string
		if err := rows.Scan(&kind, &instance, &account); err != nil {
			return nil, err
		}
		if kind == kindFollower {
			u.Followers.Add(instance, account)
		} else {
			u.Following.Add(instance, account)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	u.ApplyDefaults()
	return u, nil
}

func (db *DB) GetUserList() (map[string]string, error) {
	rows, err := db.db.Query(sqlSelectAccounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := map[string]string{}
	for rows.Next() {
		var username, name string
		if err := rows.Scan(&username, &name); err != nil {
			return nil, err
		}
		users[username] = name
	}
	return users, rows.Err()
}

func (db *DB) CreateUser(username string, displayName string) (*domain.User, error) {
	if !domain.IsToken(username) {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("invalid username '%s'", username)}
	}
	u, err := domain.NewUser(username, displayName)
	if err != nil {
		return nil, err
	}
	u.ApplyDefaults()

	err = db.wrapTransaction(func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRow(sqlSelectAccountId, username).Scan(&existing)
		if err == nil {
			return &domain.ValidationError{Msg: fmt.Sprintf("user '%s' already exists", username)}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.Exec(sqlInsertAccount, uuid.New().String(), u.Username, u.Name, u.Bio, u.JoinDate,
			u.IconImage, u.HeaderImage, u.PublicKey, u.PrivateKey, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	db.logger.Info("Created user", "user", username)
	return u, nil
}

// SaveUser writes the profile and keys of u. Relations only change through
// AddFollower, RemoveFollower and AddFollowing.
func (db *DB) SaveUser(u *domain.User) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateAccount, u.Name, u.Bio, u.JoinDate, u.IconImage, u.HeaderImage,
			u.PublicKey, u.PrivateKey, u.Username)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.AccountNotFound(u.Username)
		}
		return nil
	})
}

func (db *DB) AddFollower(username string, instance string, account string) (bool, error) {
	return db.execForAccount(username, sqlInsertRelation, func(accountId string) []any {
		return []any{uuid.New().String(), accountId, kindFollower, instance, account}
	})
}

func (db *DB) RemoveFollower(username string, instance string, account string) (bool, error) {
	return db.execForAccount(username, sqlDeleteRelation, func(accountId string) []any {
		return []any{accountId, kindFollower, instance, account}
	})
}

func (db *DB) AddFollowing(username string, instance string, account string) (bool, error) {
	return db.execForAccount(username, sqlInsertRelation, func(accountId string) []any {
		return []any{uuid.New().String(), accountId, kindFollowing, instance, account}
	})
}

// execForAccount runs query in a transaction and reports whether a row changed.
func (db *DB) execForAccount(username string, query string, args func(accountId string) []any) (bool, error) {
	changed := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		accountId, err := db.accountId(tx, username)
		if err != nil {
			return err
		}
		res, err := tx.Exec(query, args(accountId)...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n > 0
		return nil
	})
	return changed, err
}

func (db *DB) accountId(tx *sql.Tx, username string) (string, error) {
	var id string
	err := tx.QueryRow(sqlSelectAccountId, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.AccountNotFound(username)
	}
	return id, err
}

func (db *DB) GetAllPostIdsForUser(username string) ([]string, error) {
	rows, err := db.db.Query(sqlSelectPostIds, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) GetPostJSON(username string, token string) ([]byte, error) {
	var doc string
	err := db.db.QueryRow(sqlSelectPostDocument, username, token).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

func (db *DB) StorePostJSON(username string, postID string, doc []byte) error {
	token, err := domain.ExtractLocalID(postID)
	if err != nil {
		return err
	}
	var published int64
	if note, err := domain.ParseNote(doc); err == nil && !note.Published.IsZero() {
		published = note.Published.UnixNano()
	} else {
		published = time.Now().UnixNano()
	}

	return db.wrapTransaction(func(tx *sql.Tx) error {
		accountId, err := db.accountId(tx, username)
		if err != nil {
			return err
		}
		_, err = tx.Exec(sqlUpsertPost, uuid.New().String(), accountId, token, postID, published, string(doc))
		return err
	})
}

func (db *DB) GetPost(username string, objectID string) (*domain.Note, error) {
	token, ok := domain.ObjectToken(objectID)
	if !ok {
		return nil, nil
	}
	data, err := db.GetPostJSON(username, token)
	if err != nil || data == nil {
		return nil, err
	}
	return domain.ParseNote(data)
}

func (db *DB) LikePost(username string, objectID string, like domain.Like) (bool, error) {
	token, ok := domain.ObjectToken(objectID)
	if !ok {
		return false, &domain.ValidationError{Msg: fmt.Sprintf("can't retrieve local ID for '%s'", objectID)}
	}
	return db.execForAccount(username, sqlInsertLike, func(accountId string) []any {
		return []any{uuid.New().String(), accountId, token, like.Actor, like.ActivityID}
	})
}

func (db *DB) UnlikePost(username string, objectID string, like domain.Like) (bool, error) {
	token, ok := domain.ObjectToken(objectID)
	if !ok {
		return false, &domain.ValidationError{Msg: fmt.Sprintf("can't retrieve local ID for '%s'", objectID)}
	}
	return db.execForAccount(username, sqlDeleteLike, func(accountId string) []any {
		return []any{accountId, token, like.Actor}
	})
}

// Delivery is one row of the delivery log.
type Delivery struct {
	ActivityURI string
	Instance    string
	InboxURI    string
	Status      int
	Error       string
	Duration    time.Duration
	CreatedAt   time.Time
}

// RecordDelivery appends the outcome of an outbound POST to the log.
func (db *DB) RecordDelivery(result domain.DeliveryResult) error {
	var errText sql.NullString
	if result.Err != nil {
		errText = sql.NullString{String: result.Err.Error(), Valid: true}
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery, uuid.New().String(), result.ActivityID, result.Instance, result.Inbox,
			result.Status, errText, result.Duration.Milliseconds(), time.Now().UnixNano())
		return err
	})
}

// ReadDeliveries returns the newest limit entries of the delivery log.
func (db *DB) ReadDeliveries(limit int) ([]Delivery, error) {
	rows, err := db.db.Query(sqlSelectDeliveries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		var status sql.NullInt64
		var errText sql.NullString
		var durationMs, createdAt int64
		if err := rows.Scan(&d.ActivityURI, &d.Instance, &d.InboxURI, &status, &errText, &durationMs, &createdAt); err != nil {
			return nil, err
		}
		d.Status = int(status.Int64)
		d.Error = errText.String
		d.Duration = time.Duration(durationMs) * time.Millisecond
		d.CreatedAt = time.Unix(0, createdAt).UTC()
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

var busyRetries = 5

// wrapTransaction runs the given function within a transaction and retries
// it while SQLite reports the database as busy.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := db.runTransaction(f)
		var serr *sqlite.Error
		if errors.As(err, &serr) && serr.Code() == sqlitelib.SQLITE_BUSY && attempt < busyRetries {
			db.logger.Debug("Database busy, retrying transaction", "attempt", attempt+1)
			time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
			continue
		}
		return err
	}
}

func (db *DB) runTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Error starting transaction", "err", err)
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		db.logger.Error("Error committing transaction", "err", err)
		return err
	}
	return nil
}
