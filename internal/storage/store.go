package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"byggarportalen/internal/storage/zapadapter"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotExist       = errors.New("user does not exist")
	ErrEmailTaken         = errors.New("email is already in use")
	ErrProfileNotExist    = errors.New("profile does not exist")
	ErrProjectNotExist    = errors.New("project does not exist")
	ErrMemberExists       = errors.New("user is already a project member")
	ErrMemberBadUser      = errors.New("bad member user id")
	ErrMemberNotExist     = errors.New("member does not exist")
	ErrMessageBadProject  = errors.New("bad project id")
	ErrMessageBadAuthor   = errors.New("bad author id")
	ErrMessageNotExist    = errors.New("message does not exist")
	ErrProjectNameMissing = errors.New("project must have a name")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided logger via zapadapter to pgxpool.Pool, applies options and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelWarn

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close closes all pool connections
func (s *Store) Close() {
	s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// scanner is satisfied by both pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func pgErrorCode(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func dateValue(d pgtype.Date) *time.Time {
	if d.Status != pgtype.Present {
		return nil
	}
	t := d.Time
	return &t
}

// likePattern wraps q into a case-insensitive substring pattern with LIKE wildcards escaped
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
