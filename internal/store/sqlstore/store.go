package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq" // Postgres driver, registered as "postgres"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pliu/parley/internal/apperror"
	"github.com/pliu/parley/internal/models"
	"github.com/pliu/parley/internal/store"
)

type SQLStore struct {
	db         *gorm.DB
	driverName string
}

var _ store.Store = (*SQLStore)(nil)

// New opens the database, tunes the pool for the driver and migrates the
// schema. log may be nil, in which case the ORM is silent.
func New(driverName, dataSourceName string, log *logrus.Logger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driverName {
	case "sqlite3", "sqlite":
		dialector = sqlite.Open(dataSourceName)
	case "postgres":
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: dataSourceName})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if log != nil {
		gormLogger = logger.New(log, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driverName == "postgres" {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// SQLite serialises writers anyway; one connection also keeps
		// :memory: databases alive and shared.
		sqlDB.SetMaxOpenConns(1)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	return s.db.AutoMigrate(
		&models.User{},
		&models.AccessToken{},
		&models.Conversation{},
		&models.Participant{},
		&models.Message{},
	)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// storageErr passes domain errors through and reports everything else as
// the persistence layer being unavailable.
func storageErr(err error, op string) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Unavailable("storage unavailable", errors.Wrap(err, "sqlstore."+op))
}

func notFoundOr(err error, notFound error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return storageErr(err, op)
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		if strings.Contains(strings.ToLower(err.Error()), "phone") {
			return apperror.ErrPhoneTaken
		}
		return apperror.ErrUsernameTaken
	}
	return storageErr(err, "CreateUser")
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFoundOr(err, apperror.ErrUserNotFound, "GetUserByUsername")
	}
	return &user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFoundOr(err, apperror.ErrUserNotFound, "GetUserByID")
	}
	return &user, nil
}

func (s *SQLStore) CountUsers(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
		return 0, storageErr(err, "CountUsers")
	}
	return n, nil
}

// likeEscaper makes user input match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLStore) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where(`username LIKE ? ESCAPE '\'`, likeEscaper.Replace(query)+"%").
		Order("username").
		Limit(10).
		Find(&users).Error
	if err != nil {
		return nil, storageErr(err, "SearchUsers")
	}
	return users, nil
}

func (s *SQLStore) SetPushToken(ctx context.Context, userID uint, token *string) error {
	var value any = gorm.Expr("NULL")
	if token != nil {
		value = *token
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("fcm_token", value)
	if res.Error != nil {
		return storageErr(res.Error, "SetPushToken")
	}
	if res.RowsAffected == 0 {
		return apperror.ErrUserNotFound
	}
	return nil
}

func (s *SQLStore) CreateToken(ctx context.Context, token *models.AccessToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return storageErr(err, "CreateToken")
	}
	return nil
}

func (s *SQLStore) GetToken(ctx context.Context, id uint) (*models.AccessToken, error) {
	var token models.AccessToken
	if err := s.db.WithContext(ctx).First(&token, id).Error; err != nil {
		return nil, notFoundOr(err, apperror.ErrInvalidToken, "GetToken")
	}
	return &token, nil
}

func (s *SQLStore) TouchToken(ctx context.Context, id uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.AccessToken{}).Where("id = ?", id).Update("last_used_at", at).Error
	if err != nil {
		return storageErr(err, "TouchToken")
	}
	return nil
}

func (s *SQLStore) DeleteToken(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).Delete(&models.AccessToken{}, id).Error; err != nil {
		return storageErr(err, "DeleteToken")
	}
	return nil
}
