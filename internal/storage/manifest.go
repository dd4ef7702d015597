// Package storage 将会话与已保存的图片记录到 SQLite 清单中
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/RecoveryAshes/MapsPhotoCrawl/internal/models"
)

// ErrSessionNotFound 清单中没有该会话
var ErrSessionNotFound = errors.New("会话不存在")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	location TEXT NOT NULL,
	safe_name TEXT NOT NULL,
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	output_dir TEXT,
	saved INTEGER DEFAULT 0,
	discovered INTEGER DEFAULT 0,
	error_message TEXT,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_location ON sessions(location);

CREATE TABLE IF NOT EXISTS photos (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	idx INTEGER NOT NULL,
	url TEXT NOT NULL,
	file_path TEXT NOT NULL,
	kind TEXT NOT NULL,
	size INTEGER NOT NULL,
	sha256 TEXT NOT NULL,
	content_type TEXT,
	attempts INTEGER,
	exif TEXT,
	downloaded_at DATETIME NOT NULL,
	UNIQUE(session_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_photos_sha256 ON photos(sha256);
`

// Manifest SQLite 清单
type Manifest struct {
	db   *sql.DB
	path string
}

// SessionRecord 清单中的会话行
type SessionRecord struct {
	ID           string
	Location     string
	SafeName     string
	Mode         models.CrawlMode
	Status       models.SessionStatus
	OutputDir    string
	Saved        int
	Discovered   int
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// OpenManifest 打开或创建 path 处的清单
func OpenManifest(path string) (*Manifest, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("创建清单目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("打开清单失败: %w", err)
	}
	// 并发下载的写入统一走一个连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("设置 %s 失败: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}

	return &Manifest{db: db, path: path}, nil
}

// Path 清单文件路径
func (m *Manifest) Path() string {
	return m.path
}

// Close 关闭数据库
func (m *Manifest) Close() error {
	return m.db.Close()
}

// RecordSession 写入或更新会话行
func (m *Manifest) RecordSession(ctx context.Context, result *models.CrawlResult) error {
	s := result.Session
	_, err := m.db.ExecContext(ctx, `
	INSERT INTO sessions (id, location, safe_name, mode, status, output_dir, saved, discovered, error_message, created_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		saved = excluded.saved,
		discovered = excluded.discovered,
		error_message = excluded.error_message,
		completed_at = excluded.completed_at
	`, s.ID, s.Location, s.SafeName, string(s.Mode), string(s.Status), result.OutputDir,
		result.Saved, result.Discovered, s.ErrorMessage, s.CreatedAt, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("写入会话失败: %w", err)
	}
	return nil
}

// RecordPhoto 写入一张已保存的图片
func (m *Manifest) RecordPhoto(ctx context.Context, sessionID string, f *models.PhotoFile) error {
	var exifJSON []byte
	if len(f.Exif) > 0 {
		var err error
		if exifJSON, err = json.Marshal(f.Exif); err != nil {
			return fmt.Errorf("序列化EXIF失败: %w", err)
		}
	}

	_, err := m.db.ExecContext(ctx, `
	INSERT INTO photos (id, session_id, idx, url, file_path, kind, size, sha256, content_type, attempts, exif, downloaded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, idx) DO UPDATE SET
		url = excluded.url,
		file_path = excluded.file_path,
		size = excluded.size,
		sha256 = excluded.sha256,
		exif = excluded.exif
	`, f.ID, sessionID, f.Index, f.URL, f.FilePath, string(f.Kind), f.Size, f.Hash,
		f.ContentType, f.Attempts, nullableString(exifJSON), f.DownloadedAt)
	if err != nil {
		return fmt.Errorf("写入图片失败: %w", err)
	}
	return nil
}

// Session 按ID读取会话
func (m *Manifest) Session(ctx context.Context, id string) (*SessionRecord, error) {
	row := m.db.QueryRowContext(ctx, `
	SELECT id, location, safe_name, mode, status, output_dir, saved, discovered, error_message, created_at, completed_at
	FROM sessions WHERE id = ?`, id)

	var (
		rec         SessionRecord
		mode        string
		status      string
		outputDir   sql.NullString
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Location, &rec.SafeName, &mode, &status, &outputDir,
		&rec.Saved, &rec.Discovered, &errMsg, &rec.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话失败: %w", err)
	}

	rec.Mode = models.CrawlMode(mode)
	rec.Status = models.SessionStatus(status)
	rec.OutputDir = outputDir.String
	rec.ErrorMessage = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// Photos 按序号返回会话的图片
func (m *Manifest) Photos(ctx context.Context, sessionID string) ([]*models.PhotoFile, error) {
	rows, err := m.db.QueryContext(ctx, `
	SELECT id, idx, url, file_path, kind, size, sha256, content_type, attempts, exif, downloaded_at
	FROM photos WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询图片失败: %w", err)
	}
	defer rows.Close()

	var photos []*models.PhotoFile
	for rows.Next() {
		var (
			f           models.PhotoFile
			kind        string
			contentType sql.NullString
			attempts    sql.NullInt64
			exifJSON    sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Index, &f.URL, &f.FilePath, &kind, &f.Size, &f.Hash,
			&contentType, &attempts, &exifJSON, &f.DownloadedAt); err != nil {
			return nil, fmt.Errorf("读取图片行失败: %w", err)
		}
		f.Kind = models.ImageKind(kind)
		f.ContentType = contentType.String
		f.Attempts = int(attempts.Int64)
		if exifJSON.Valid && exifJSON.String != "" {
			if err := json.Unmarshal([]byte(exifJSON.String), &f.Exif); err != nil {
				return nil, fmt.Errorf("解析EXIF失败: %w", err)
			}
		}
		photos = append(photos, &f)
	}
	return photos, rows.Err()
}

// FindByHash 返回内容相同的已保存文件路径; 没有时返回空字符串
func (m *Manifest) FindByHash(ctx context.Context, sha string) (string, error) {
	var path string
	err := m.db.QueryRowContext(ctx, `SELECT file_path FROM photos WHERE sha256 = ? ORDER BY downloaded_at LIMIT 1`, sha).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("按哈希查询失败: %w", err)
	}
	return path, nil
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
