package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// SQLiteStore keeps the document in an embedded SQLite database.
// It uses modernc.org/sqlite for CGO-less builds. Each Save replaces all rows in one transaction.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	now    func() time.Time
}

// NewSQLiteStore creates a store pointing to dbPath. Call Init() before using it.
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath, now: time.Now}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *SQLiteStore) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []struct{ stmt, what string }{
		{`PRAGMA journal_mode=WAL;`, "set WAL"},
		{`PRAGMA foreign_keys=ON;`, "enable FKs"},
		{`PRAGMA busy_timeout=5000;`, "set busy_timeout"},
		{`PRAGMA synchronous=NORMAL;`, "set synchronous"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("%s: %w", p.what, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (teamlist.State, error) {
	if s.db == nil {
		return teamlist.State{}, fmt.Errorf("store not initialized")
	}

	doc := Document{
		Lists:            make(map[string]map[string]ListRecord),
		RankRoles:        make(map[string]map[string]RankRecord),
		CustomParameters: make(map[string]map[string][]string),
		GuildSettings:    make(map[string]GuildSettingsRecord),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, role_id, guild_id, message_id, created_at, last_rendered_at FROM lists`)
	if err != nil {
		return teamlist.State{}, fmt.Errorf("query lists: %w", err)
	}
	for rows.Next() {
		var (
			channelID, roleID string
			rec               ListRecord
			messageID         sql.NullString
			rendered          sql.NullTime
		)
		if err := rows.Scan(&channelID, &roleID, &rec.GuildID, &messageID, &rec.CreatedAt, &rendered); err != nil {
			rows.Close()
			return teamlist.State{}, fmt.Errorf("scan list: %w", err)
		}
		rec.MessageID = messageID.String
		if rendered.Valid {
			t := rendered.Time.UTC()
			rec.LastRenderedAt = &t
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		if doc.Lists[channelID] == nil {
			doc.Lists[channelID] = make(map[string]ListRecord)
		}
		doc.Lists[channelID][roleID] = rec
	}
	if err := closeRows(rows); err != nil {
		return teamlist.State{}, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT channel_id, team_role_id, role_id FROM list_hidden_roles ORDER BY role_id`)
	if err != nil {
		return teamlist.State{}, fmt.Errorf("query hidden roles: %w", err)
	}
	for rows.Next() {
		var channelID, teamRoleID, roleID string
		if err := rows.Scan(&channelID, &teamRoleID, &roleID); err != nil {
			rows.Close()
			return teamlist.State{}, fmt.Errorf("scan hidden role: %w", err)
		}
		if rec, ok := doc.Lists[channelID][teamRoleID]; ok {
			rec.HiddenRoles = append(rec.HiddenRoles, roleID)
			doc.Lists[channelID][teamRoleID] = rec
		}
	}
	if err := closeRows(rows); err != nil {
		return teamlist.State{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT guild_id, role_id, priority, name FROM rank_roles`)
	if err != nil {
		return teamlist.State{}, fmt.Errorf("query rank roles: %w", err)
	}
	for rows.Next() {
		var guildID, roleID string
		var rec RankRecord
		if err := rows.Scan(&guildID, &roleID, &rec.Priority, &rec.Name); err != nil {
			rows.Close()
			return teamlist.State{}, fmt.Errorf("scan rank role: %w", err)
		}
		if doc.RankRoles[guildID] == nil {
			doc.RankRoles[guildID] = make(map[string]RankRecord)
		}
		doc.RankRoles[guildID][roleID] = rec
	}
	if err := closeRows(rows); err != nil {
		return teamlist.State{}, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT guild_id, label, role_id FROM custom_parameters ORDER BY guild_id, label, role_id`)
	if err != nil {
		return teamlist.State{}, fmt.Errorf("query custom parameters: %w", err)
	}
	for rows.Next() {
		var guildID, label, roleID string
		if err := rows.Scan(&guildID, &label, &roleID); err != nil {
			rows.Close()
			return teamlist.State{}, fmt.Errorf("scan custom parameter: %w", err)
		}
		if doc.CustomParameters[guildID] == nil {
			doc.CustomParameters[guildID] = make(map[string][]string)
		}
		doc.CustomParameters[guildID][label] = append(doc.CustomParameters[guildID][label], roleID)
	}
	if err := closeRows(rows); err != nil {
		return teamlist.State{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT guild_id, embed_color FROM guild_settings`)
	if err != nil {
		return teamlist.State{}, fmt.Errorf("query guild settings: %w", err)
	}
	for rows.Next() {
		var guildID string
		var color sql.NullInt64
		if err := rows.Scan(&guildID, &color); err != nil {
			rows.Close()
			return teamlist.State{}, fmt.Errorf("scan guild settings: %w", err)
		}
		if color.Valid {
			c := int(color.Int64)
			doc.GuildSettings[guildID] = GuildSettingsRecord{EmbedColor: &c}
		}
	}
	if err := closeRows(rows); err != nil {
		return teamlist.State{}, err
	}

	return doc.State(), nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, st teamlist.State) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	doc := NewDocument(st, s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"list_hidden_roles", "lists", "rank_roles", "custom_parameters", "guild_settings"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for channelID, byRole := range doc.Lists {
		for roleID, rec := range byRole {
			var rendered any
			if rec.LastRenderedAt != nil {
				rendered = rec.LastRenderedAt.UTC()
			}
			var messageID any
			if rec.MessageID != "" {
				messageID = rec.MessageID
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO lists (channel_id, role_id, guild_id, message_id, created_at, last_rendered_at) VALUES (?, ?, ?, ?, ?, ?)`,
				channelID, roleID, rec.GuildID, messageID, rec.CreatedAt.UTC(), rendered,
			); err != nil {
				return fmt.Errorf("insert list %s:%s: %w", channelID, roleID, err)
			}
			for _, hidden := range rec.HiddenRoles {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO list_hidden_roles (channel_id, team_role_id, role_id) VALUES (?, ?, ?)`,
					channelID, roleID, hidden,
				); err != nil {
					return fmt.Errorf("insert hidden role: %w", err)
				}
			}
		}
	}
	for guildID, ranks := range doc.RankRoles {
		for roleID, rec := range ranks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rank_roles (guild_id, role_id, priority, name) VALUES (?, ?, ?, ?)`,
				guildID, roleID, rec.Priority, rec.Name,
			); err != nil {
				return fmt.Errorf("insert rank role: %w", err)
			}
		}
	}
	for guildID, params := range doc.CustomParameters {
		for label, roles := range params {
			for _, roleID := range roles {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO custom_parameters (guild_id, label, role_id) VALUES (?, ?, ?)`,
					guildID, label, roleID,
				); err != nil {
					return fmt.Errorf("insert custom parameter: %w", err)
				}
			}
		}
	}
	for guildID, rec := range doc.GuildSettings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO guild_settings (guild_id, embed_color) VALUES (?, ?)`,
			guildID, *rec.EmbedColor,
		); err != nil {
			return fmt.Errorf("insert guild settings: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('version', ?), ('saved_at', ?)
         ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		strconv.Itoa(doc.Version), doc.SavedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func ensureSchema(db *sql.DB) error {
	const createLists = `
CREATE TABLE IF NOT EXISTS lists (
  channel_id       TEXT NOT NULL,
  role_id          TEXT NOT NULL,
  guild_id         TEXT NOT NULL,
  message_id       TEXT,
  created_at       TIMESTAMP NOT NULL,
  last_rendered_at TIMESTAMP,
  PRIMARY KEY (channel_id, role_id)
);
CREATE INDEX IF NOT EXISTS idx_lists_guild ON lists(guild_id);`

	const createHidden = `
CREATE TABLE IF NOT EXISTS list_hidden_roles (
  channel_id   TEXT NOT NULL,
  team_role_id TEXT NOT NULL,
  role_id      TEXT NOT NULL,
  PRIMARY KEY (channel_id, team_role_id, role_id),
  FOREIGN KEY (channel_id, team_role_id) REFERENCES lists(channel_id, role_id) ON DELETE CASCADE
);`

	const createRanks = `
CREATE TABLE IF NOT EXISTS rank_roles (
  guild_id TEXT NOT NULL,
  role_id  TEXT NOT NULL,
  priority INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 100),
  name     TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (guild_id, role_id)
);`

	const createParams = `
CREATE TABLE IF NOT EXISTS custom_parameters (
  guild_id TEXT NOT NULL,
  label    TEXT NOT NULL,
  role_id  TEXT NOT NULL,
  PRIMARY KEY (guild_id, label, role_id)
);`

	const createSettings = `
CREATE TABLE IF NOT EXISTS guild_settings (
  guild_id    TEXT PRIMARY KEY,
  embed_color INTEGER
);`

	const createMeta = `
CREATE TABLE IF NOT EXISTS meta (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`

	for _, stmt := range []string{createLists, createHidden, createRanks, createParams, createSettings, createMeta} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
