package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "clipbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore serves both drivers. Queries are written with ? placeholders and
// rebound for postgres.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect dialect
}

func (s *sqlStore) migrate(ctx context.Context, name string) error {
	b, err := migrationsFS.ReadFile(name)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	return rebind(query)
}

// rebind turns ? placeholders into $1..$n.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) ok() error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.ok(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

func (s *sqlStore) AddOrTouchUser(ctx context.Context, u User) error {
	if err := s.ok(); err != nil {
		return err
	}
	if u.ID == 0 {
		return errors.New("user id is required")
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO users(user_id, username, first_name, last_name, created_at, last_active, is_active)
		 VALUES(?,?,?,?,?,?,1)
		 ON CONFLICT(user_id) DO UPDATE SET
			username=excluded.username,
			first_name=excluded.first_name,
			last_name=excluded.last_name,
			last_active=excluded.last_active,
			is_active=1`),
		u.ID, u.Username, u.FirstName, u.LastName, now, now,
	)
	return err
}

func (s *sqlStore) GetActiveUserIDs(ctx context.Context) ([]int64, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users WHERE is_active = 1 ORDER BY created_at, user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) MarkUserInactive(ctx context.Context, userID int64) error {
	if err := s.ok(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET is_active = 0 WHERE user_id = ?`), userID)
	return err
}

func (s *sqlStore) UserStats(ctx context.Context, now time.Time) (UserStats, error) {
	if err := s.ok(); err != nil {
		return UserStats{}, err
	}
	if now.IsZero() {
		now = time.Now()
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Unix()
	week := now.Add(-7 * 24 * time.Hour).Unix()

	var st UserStats
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_active >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_active >= ? THEN 1 ELSE 0 END), 0)
		 FROM users`),
		day, day, week,
	).Scan(&st.Total, &st.NewToday, &st.ActiveToday, &st.ActiveWeek)
	return st, err
}

// ---- videos ----

const videoCols = `id, file_id, title, hashtags, upload_time`

func scanVideo(sc interface{ Scan(...any) error }) (Video, error) {
	var v Video
	var at int64
	if err := sc.Scan(&v.ID, &v.FileID, &v.Title, &v.Hashtags, &at); err != nil {
		return Video{}, err
	}
	v.UploadedAt = time.Unix(at, 0)
	return v, nil
}

func collectVideos(rows *sql.Rows) ([]Video, error) {
	defer rows.Close()
	var out []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// likePattern builds a case-insensitive substring pattern, escaping LIKE
// metacharacters with a backslash.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func (s *sqlStore) SearchVideos(ctx context.Context, keyword string, limit int) ([]Video, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	p := likePattern(keyword)
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+videoCols+` FROM videos
		 WHERE LOWER(title) LIKE ? ESCAPE '\' OR LOWER(hashtags) LIKE ? ESCAPE '\'
		 ORDER BY upload_time DESC, id DESC
		 LIMIT ?`),
		p, p, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectVideos(rows)
}

func (s *sqlStore) RandomVideo(ctx context.Context) (Video, bool, error) {
	if err := s.ok(); err != nil {
		return Video{}, false, err
	}
	v, err := scanVideo(s.db.QueryRowContext(ctx, `SELECT `+videoCols+` FROM videos ORDER BY RANDOM() LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return Video{}, false, nil
	}
	if err != nil {
		return Video{}, false, err
	}
	return v, true, nil
}

func (s *sqlStore) AddVideo(ctx context.Context, v Video) (int64, error) {
	if err := s.ok(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(v.FileID) == "" {
		return 0, errors.New("video file id is required")
	}
	if v.UploadedAt.IsZero() {
		v.UploadedAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO videos(file_id, title, hashtags, upload_time) VALUES(?,?,?,?) RETURNING id`),
		v.FileID, v.Title, v.Hashtags, v.UploadedAt.Unix(),
	).Scan(&id)
	return id, err
}

func (s *sqlStore) DeleteVideo(ctx context.Context, id int64) (bool, error) {
	if err := s.ok(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM videos WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) ListVideos(ctx context.Context, hashtag string, offset, limit int) ([]Video, int, error) {
	if err := s.ok(); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 10
	}
	where := ""
	var args []any
	if tag := strings.TrimPrefix(strings.TrimSpace(hashtag), "#"); tag != "" {
		where = ` WHERE LOWER(hashtags) LIKE ? ESCAPE '\'`
		args = append(args, likePattern("#"+tag))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM videos`+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+videoCols+` FROM videos`+where+` ORDER BY upload_time DESC, id DESC LIMIT ? OFFSET ?`),
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectVideos(rows)
	return out, total, err
}

func (s *sqlStore) Hashtags(ctx context.Context) ([]string, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT hashtags FROM videos WHERE hashtags <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var all []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		all = append(all, ExtractHashtags(h)...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return uniqueSorted(all), nil
}

// ---- settings ----

func (s *sqlStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if err := s.ok(); err != nil {
		return "", false, err
	}
	var v string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM settings WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqlStore) SetSetting(ctx context.Context, key, value string) error {
	if err := s.ok(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("setting key is required")
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO settings(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`),
		key, value, time.Now().Unix(),
	)
	return err
}

// ---- broadcasts ----

func (s *sqlStore) RecordBroadcast(ctx context.Context, r BroadcastRecord) error {
	if err := s.ok(); err != nil {
		return err
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.FinishedAt
	}
	cancelled := 0
	if r.Cancelled {
		cancelled = 1
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO broadcast_logs(report_id, admin_id, message_type, content, total, success, failed, skipped, cancelled, started_at, finished_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`),
		r.ReportID, r.AdminID, r.MessageType, truncRunes(r.Content, maxContentRunes),
		r.Total, r.Succeeded, r.Failed, r.Skipped, cancelled,
		r.StartedAt.Unix(), r.FinishedAt.Unix(),
	)
	return err
}

// ---- action log ----

func (s *sqlStore) LogAction(ctx context.Context, userID int64, action, data string) error {
	if err := s.ok(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO user_actions(user_id, action, data, at) VALUES(?,?,?,?)`),
		userID, action, data, time.Now().Unix())
	return err
}

func (s *sqlStore) PruneActions(ctx context.Context, before time.Time) (int64, error) {
	if err := s.ok(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM user_actions WHERE at < ?`), before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
