package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/pulsesync/internal/domain"
	"github.com/vedran77/pulsesync/internal/repository"
)

// ArchiveRepo stores confirmed room history in PostgreSQL, one row per
// message with the full record as JSONB.
type ArchiveRepo struct {
	pool *pgxpool.Pool
}

var _ repository.ArchiveRepository = (*ArchiveRepo)(nil)

func NewArchiveRepo(pool *pgxpool.Pool) *ArchiveRepo {
	return &ArchiveRepo{pool: pool}
}

func (r *ArchiveRepo) SaveRoom(ctx context.Context, room string, msgs []domain.ChatMessage) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chat_message_archive WHERE room_code = $1`, room); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i := range msgs {
			m := &msgs[i]
			if m.Code == "" {
				continue
			}
			payload, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("encoding message %s: %w", m.Code, err)
			}
			batch.Queue(`
				INSERT INTO chat_message_archive (room_code, code, ts, payload)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (room_code, code)
				DO UPDATE SET ts = EXCLUDED.ts, payload = EXCLUDED.payload, updated_at = now()`,
				room, m.Code, m.TimeStamp, payload,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *ArchiveRepo) LoadRoom(ctx context.Context, room string) ([]domain.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payload FROM chat_message_archive
		WHERE room_code = $1
		ORDER BY ts, code`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m domain.ChatMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decoding archived message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *ArchiveRepo) Rooms(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT room_code FROM chat_message_archive ORDER BY room_code`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *ArchiveRepo) Clear(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chat_message_archive`)
	return err
}

func (r *ArchiveRepo) Close() error {
	r.pool.Close()
	return nil
}
