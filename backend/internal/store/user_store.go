package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, username string, passwordHash []byte) (*User, error) {
	u := &User{
		Username:     username,
		PasswordHash: passwordHash,
		LastSeen:     time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		// 1062 = duplicate key，用户名唯一索引
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return u, nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uint64) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// TouchLastSeen 每次登录刷新 last_seen。
func (s *UserStore) TouchLastSeen(ctx context.Context, userID uint64) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		Update("last_seen", time.Now()).Error
}

// ListByIDs 批量取用户（活跃用户列表广播用），保持入参顺序。
func (s *UserStore) ListByIDs(ctx context.Context, ids []uint64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint64]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
