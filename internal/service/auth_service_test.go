package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"lime/internal/model/auth"
	"lime/internal/pkg/cache"
	"lime/internal/repository"
)

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*auth.User
	reads int
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*auth.User{}}
}

func (s *memUserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return repository.ErrDuplicate
		}
	}
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *memUserStore) FindByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memUserStore) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	return s.find(func(u *auth.User) bool { return u.Username == username })
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	return s.find(func(u *auth.User) bool { return u.Email == email })
}

func (s *memUserStore) find(match func(*auth.User) bool) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	for _, u := range s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memUserStore) UpdateLastLoginAt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		now := time.Now().UTC()
		u.LastLoginAt = &now
	}
	return nil
}

type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*auth.RefreshToken
}

func (s *memTokenStore) Create(_ context.Context, token *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Token] = token
	return nil
}

func (s *memTokenStore) FindByToken(_ context.Context, token string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memTokenStore) DeleteByToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func newTestAuthService(t *testing.T, requireActivation bool) (*AuthService, *memUserStore, *memTokenStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := newMemUserStore()
	tokens := &memTokenStore{tokens: map[string]*auth.RefreshToken{}}
	svc := NewAuthService(users, tokens, cache.NewRedisCacheFromClient(client), AuthOptions{
		JWTSecret:          "test-secret",
		AccessTokenExpiry:  time.Minute,
		RefreshTokenExpiry: time.Hour,
		RequireActivation:  requireActivation,
	})
	return svc, users, tokens
}

func TestAuthService(t *testing.T) {
	Convey("AuthService", t, func() {
		ctx := context.Background()
		svc, users, tokens := newTestAuthService(t, false)

		user, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret")
		So(err, ShouldBeNil)
		So(user.IsActive, ShouldBeTrue)
		So(user.IsSuperuser, ShouldBeFalse)
		So(user.Password, ShouldNotEqual, "s3cret")

		Convey("用户名和邮箱不能重复", func() {
			_, err := svc.Register(ctx, "alice", "other@example.com", "x")
			So(errors.Is(err, ErrUserAlreadyExists), ShouldBeTrue)

			_, err = svc.Register(ctx, "alice2", "alice@example.com", "x")
			So(errors.Is(err, ErrEmailTaken), ShouldBeTrue)
		})

		Convey("登录与 Token 校验", func() {
			res, err := svc.Login(ctx, "alice", "s3cret")
			So(err, ShouldBeNil)
			So(res.TokenType, ShouldEqual, "Bearer")
			So(res.ExpiresIn, ShouldEqual, 60)
			So(res.RefreshToken, ShouldNotBeEmpty)

			got, err := svc.ValidateToken(ctx, res.AccessToken)
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, user.ID)
			So(got.Username, ShouldEqual, "alice")

			_, err = svc.ValidateToken(ctx, res.AccessToken+"x")
			So(errors.Is(err, ErrInvalidToken), ShouldBeTrue)

			Convey("刷新与退出", func() {
				refreshed, err := svc.RefreshToken(ctx, res.RefreshToken)
				So(err, ShouldBeNil)
				So(refreshed.AccessToken, ShouldNotBeEmpty)

				So(svc.Logout(ctx, res.RefreshToken), ShouldBeNil)
				_, err = svc.RefreshToken(ctx, res.RefreshToken)
				So(errors.Is(err, ErrInvalidToken), ShouldBeTrue)
			})

			Convey("过期的 refresh token 被删除", func() {
				tokens.tokens[res.RefreshToken].ExpiresAt = time.Now().Add(-time.Minute)
				_, err := svc.RefreshToken(ctx, res.RefreshToken)
				So(errors.Is(err, ErrExpiredToken), ShouldBeTrue)
				_, ok := tokens.tokens[res.RefreshToken]
				So(ok, ShouldBeFalse)
			})
		})

		Convey("密码错误", func() {
			_, err := svc.Login(ctx, "alice", "wrong")
			So(errors.Is(err, ErrInvalidPassword), ShouldBeTrue)
		})

		Convey("用户不存在", func() {
			_, err := svc.Login(ctx, "nobody", "x")
			So(errors.Is(err, ErrUserNotFound), ShouldBeTrue)

			_, err = svc.ResolveUser(ctx, "nobody")
			So(errors.Is(err, ErrUserNotFound), ShouldBeTrue)
		})

		Convey("ResolveUser 命中缓存后不再查库", func() {
			first, err := svc.ResolveUser(ctx, "alice")
			So(err, ShouldBeNil)
			reads := users.reads

			second, err := svc.ResolveUser(ctx, "alice")
			So(err, ShouldBeNil)
			So(users.reads, ShouldEqual, reads)
			So(second.ID, ShouldEqual, first.ID)
		})

		Convey("CreateUser 直接激活并可设为管理员", func() {
			admin, err := svc.CreateUser(ctx, "root", "", "pw", true)
			So(err, ShouldBeNil)
			So(admin.IsActive, ShouldBeTrue)
			So(admin.IsSuperuser, ShouldBeTrue)
		})
	})

	Convey("需要激活时新用户不能登录", t, func() {
		ctx := context.Background()
		svc, users, _ := newTestAuthService(t, true)

		user, err := svc.Register(ctx, "bob", "", "pw")
		So(err, ShouldBeNil)
		So(user.IsActive, ShouldBeFalse)

		_, err = svc.Login(ctx, "bob", "pw")
		So(errors.Is(err, ErrUserInactive), ShouldBeTrue)

		users.users[user.ID].IsActive = true
		_, err = svc.Login(ctx, "bob", "pw")
		So(err, ShouldBeNil)
	})
}
