package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/go-co-op/gocron/v2"
	"github.com/klauspost/compress/zstd"
)

// Session payloads are deterministic CBOR compressed with zstd. All four
// codecs are safe for concurrent use.
var (
	cborEncMode    cbor.EncMode
	cborDecMode    cbor.DecMode
	payloadEncoder *zstd.Encoder
	payloadDecoder *zstd.Decoder
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	var err error
	cborEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
	payloadEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	payloadDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

type sessionRow struct {
	SessionID string
	Payload   []byte
}

type SessionSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewSessionSQLStore(rdb, rwdb *sql.DB) *SessionSQLStore {
	return &SessionSQLStore{rdb, rwdb}
}

func (store *SessionSQLStore) ReadSessionByID(ctx context.Context, id string) (*Session, error) {
	row := new(sessionRow)
	query := "select session_id, payload from sessions where session_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, row, query, id); err != nil {
		return nil, err
	}
	return decodeSession(row.Payload)
}

func (store *SessionSQLStore) UpsertSession(ctx context.Context, s *Session) error {
	payload, err := encodeSession(s)
	if err != nil {
		return err
	}
	query := `insert into sessions (session_id, payload, updated_on)
	values ($1, $2, $3)
	on conflict (session_id) do update
	set payload = excluded.payload,
		updated_on = excluded.updated_on`
	_, err = store.rwdb.ExecContext(ctx, query, s.SessionID, payload, s.UpdatedOn.UnixMilli())
	return err
}

func (store *SessionSQLStore) DeleteSessionsUpdatedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := "delete from sessions where updated_on < $1"
	res, err := store.rwdb.ExecContext(ctx, query, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ScheduleDailyCleanUp removes sessions untouched for longer than ttl every
// midnight.
func (store *SessionSQLStore) ScheduleDailyCleanUp(s gocron.Scheduler, ttl time.Duration) error {
	_, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(func() {
			n, err := store.DeleteSessionsUpdatedBefore(context.Background(), time.Now().Add(-ttl))
			if err != nil {
				log.Println("err deleting expired sessions:", err)
				return
			}
			if n > 0 {
				log.Printf("deleted %d expired sessions\n", n)
			}
		}),
	)
	return err
}

func encodeSession(s *Session) ([]byte, error) {
	b, err := cborEncMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding session %s: %w", s.SessionID, err)
	}
	return payloadEncoder.EncodeAll(b, nil), nil
}

func decodeSession(payload []byte) (*Session, error) {
	b, err := payloadDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	s := new(Session)
	if err := cborDecMode.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return s, nil
}
