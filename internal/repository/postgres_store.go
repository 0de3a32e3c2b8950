package repository

import (
	"context"
	"database/sql"
)

// NewPostgresStore は*sql.DB上のリポジトリ一式を構築する。
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Donors:     NewPostgresDonorRepo(db),
		Admins:     NewPostgresAdminRepo(db),
		SearchLogs: NewPostgresSearchLogRepo(db),
		Sessions:   NewPostgresSessionRepo(db),
		Ping:       db.PingContext,
		Close:      db.Close,
	}
}

// pingFunc はPing未設定のStoreで使う常に成功する疎通確認。
func pingFunc(context.Context) error { return nil }
