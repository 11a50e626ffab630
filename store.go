package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/authcore-dev/authcore/adapter"
	"github.com/google/uuid"
)

// Model names consumed through the adapter. Integrations map these to their
// own tables/collections; the engine only depends on the field names below.
const (
	modelUser         = "user"
	modelSession      = "session"
	modelAccount      = "account"
	modelVerification = "verification"
)

// store is the typed facade over the generic adapter: row mapping, id
// generation, and the schema-error heuristics live here so endpoint code
// deals in structs only.
type store struct {
	db     adapter.Adapter
	logger *slog.Logger
}

func newStore(db adapter.Adapter, logger *slog.Logger) *store {
	return &store{db: db, logger: logger}
}

// wrapStorageErr logs storage failures, attaching a migration hint when the
// error shape suggests a missing relation, and returns a generic API error.
// The raw storage error never reaches the caller.
func (s *store) wrapStorageErr(op string, err error) error {
	lower := strings.ToLower(err.Error())
	for fragment, hint := range schemaErrorHints {
		if strings.Contains(lower, fragment) {
			s.logger.Error("storage schema error", "op", op, "hint", hint, "err", err)
			return ErrInternal("internal server error")
		}
	}
	s.logger.Error("storage error", "op", op, "err", err)
	return ErrInternal("internal server error")
}

func whereEq(field string, value any) []adapter.Where {
	return []adapter.Where{{Field: field, Value: value}}
}

/*
====================================
USER
====================================
*/

func userFromRow(row adapter.Row) *User {
	return &User{
		ID:               str(row["id"]),
		Email:            str(row["email"]),
		Name:             str(row["name"]),
		Image:            str(row["image"]),
		EmailVerified:    boolean(row["emailVerified"]),
		TwoFactorEnabled: boolean(row["twoFactorEnabled"]),
		CreatedAt:        when(row["createdAt"]),
		UpdatedAt:        when(row["updatedAt"]),
	}
}

func userToRow(u *User) adapter.Row {
	return adapter.Row{
		"id":               u.ID,
		"email":            u.Email,
		"name":             u.Name,
		"image":            u.Image,
		"emailVerified":    u.EmailVerified,
		"twoFactorEnabled": u.TwoFactorEnabled,
		"createdAt":        u.CreatedAt,
		"updatedAt":        u.UpdatedAt,
	}
}

func (s *store) CreateUser(ctx context.Context, u *User) (*User, error) {
	now := time.Now()
	u.ID = uuid.NewString()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt, u.UpdatedAt = now, now

	row, err := s.db.Create(ctx, modelUser, userToRow(u))
	if err != nil {
		if errors.Is(err, adapter.ErrUniqueViolation) {
			return nil, err
		}
		return nil, s.wrapStorageErr("create user", err)
	}
	return userFromRow(row), nil
}

func (s *store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row, err := s.db.FindOne(ctx, modelUser, whereEq("email", strings.ToLower(strings.TrimSpace(email))))
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, s.wrapStorageErr("find user by email", err)
	}
	return userFromRow(row), nil
}

func (s *store) FindUserByID(ctx context.Context, id string) (*User, error) {
	row, err := s.db.FindOne(ctx, modelUser, whereEq("id", id))
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, s.wrapStorageErr("find user by id", err)
	}
	return userFromRow(row), nil
}

func (s *store) UpdateUser(ctx context.Context, id string, patch adapter.Row) (*User, error) {
	patch["updatedAt"] = time.Now()
	row, err := s.db.Update(ctx, modelUser, whereEq("id", id), patch)
	if err != nil {
		if errors.Is(err, adapter.ErrNotFound) {
			return nil, err
		}
		return nil, s.wrapStorageErr("update user", err)
	}
	return userFromRow(row), nil
}

/*
====================================
SESSION
====================================
*/

func sessionFromRow(row adapter.Row) *Session {
	return &Session{
		ID:        str(row["id"]),
		Token:     str(row["token"]),
		UserID:    str(row["userId"]),
		ExpiresAt: when(row["expiresAt"]),
		CreatedAt: when(row["createdAt"]),
		UpdatedAt: when(row["updatedAt"]),
		IPAddress: str(row["ipAddress"]),
		UserAgent: str(row["userAgent"]),
	}
}

func sessionToRow(sess *Session) adapter.Row {
	return adapter.Row{
		"id":        sess.ID,
		"token":     sess.Token,
		"userId":    sess.UserID,
		"expiresAt": sess.ExpiresAt,
		"createdAt": sess.CreatedAt,
		"updatedAt": sess.UpdatedAt,
		"ipAddress": sess.IPAddress,
		"userAgent": sess.UserAgent,
	}
}

func (s *store) CreateSession(ctx context.Context, sess *Session) (*Session, error) {
	row, err := s.db.Create(ctx, modelSession, sessionToRow(sess))
	if err != nil {
		return nil, s.wrapStorageErr("create session", err)
	}
	return sessionFromRow(row), nil
}

func (s *store) FindSessionByToken(ctx context.Context, token string) (*Session, error) {
	row, err := s.db.FindOne(ctx, modelSession, whereEq("token", token))
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, s.wrapStorageErr("find session", err)
	}
	return sessionFromRow(row), nil
}

func (s *store) UpdateSessionExpiry(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := s.db.Update(ctx, modelSession, whereEq("token", token), adapter.Row{
		"expiresAt": expiresAt,
		"updatedAt": time.Now(),
	})
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return s.wrapStorageErr("update session expiry", err)
	}
	return nil
}

func (s *store) DeleteSessionByToken(ctx context.Context, token string) error {
	if err := s.db.Delete(ctx, modelSession, whereEq("token", token)); err != nil {
		return s.wrapStorageErr("delete session", err)
	}
	return nil
}

func (s *store) ListSessionsByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.FindMany(ctx, modelSession, whereEq("userId", userID), 0, &adapter.SortBy{Field: "createdAt", Direction: "asc"})
	if err != nil {
		return nil, s.wrapStorageErr("list sessions", err)
	}

	out := make([]*Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionFromRow(row))
	}
	return out, nil
}

func (s *store) DeleteSessionsByUser(ctx context.Context, userID, exceptToken string) ([]*Session, error) {
	where := whereEq("userId", userID)
	if exceptToken != "" {
		where = append(where, adapter.Where{Field: "token", Operator: adapter.OpNe, Value: exceptToken})
	}

	rows, err := s.db.FindMany(ctx, modelSession, where, 0, nil)
	if err != nil {
		return nil, s.wrapStorageErr("list sessions for revoke", err)
	}
	if _, err := s.db.DeleteMany(ctx, modelSession, where); err != nil {
		return nil, s.wrapStorageErr("delete sessions", err)
	}

	out := make([]*Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, sessionFromRow(row))
	}
	return out, nil
}

/*
====================================
ACCOUNT
====================================
*/

func accountFromRow(row adapter.Row) *Account {
	return &Account{
		ID:                   str(row["id"]),
		ProviderID:           str(row["providerId"]),
		AccountID:            str(row["accountId"]),
		UserID:               str(row["userId"]),
		AccessToken:          str(row["accessToken"]),
		RefreshToken:         str(row["refreshToken"]),
		IDToken:              str(row["idToken"]),
		AccessTokenExpiresAt: when(row["accessTokenExpiresAt"]),
		Scope:                str(row["scope"]),
		Password:             str(row["password"]),
		CreatedAt:            when(row["createdAt"]),
		UpdatedAt:            when(row["updatedAt"]),
	}
}

func accountToRow(a *Account) adapter.Row {
	return adapter.Row{
		"id":                   a.ID,
		"providerId":           a.ProviderID,
		"accountId":            a.AccountID,
		"userId":               a.UserID,
		"accessToken":          a.AccessToken,
		"refreshToken":         a.RefreshToken,
		"idToken":              a.IDToken,
		"accessTokenExpiresAt": a.AccessTokenExpiresAt,
		"scope":                a.Scope,
		"password":             a.Password,
		"createdAt":            a.CreatedAt,
		"updatedAt":            a.UpdatedAt,
	}
}

func (s *store) CreateAccount(ctx context.Context, a *Account) (*Account, error) {
	now := time.Now()
	a.ID = uuid.NewString()
	a.CreatedAt, a.UpdatedAt = now, now

	row, err := s.db.Create(ctx, modelAccount, accountToRow(a))
	if err != nil {
		if errors.Is(err, adapter.ErrUniqueViolation) {
			return nil, err
		}
		return nil, s.wrapStorageErr("create account", err)
	}
	return accountFromRow(row), nil
}

func (s *store) FindAccount(ctx context.Context, providerID, accountID string) (*Account, error) {
	row, err := s.db.FindOne(ctx, modelAccount, []adapter.Where{
		{Field: "providerId", Value: providerID},
		{Field: "accountId", Value: accountID},
	})
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, s.wrapStorageErr("find account", err)
	}
	return accountFromRow(row), nil
}

func (s *store) FindAccountByUserAndProvider(ctx context.Context, userID, providerID string) (*Account, error) {
	row, err := s.db.FindOne(ctx, modelAccount, []adapter.Where{
		{Field: "userId", Value: userID},
		{Field: "providerId", Value: providerID},
	})
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, s.wrapStorageErr("find account by user", err)
	}
	return accountFromRow(row), nil
}

func (s *store) UpdateAccount(ctx context.Context, id string, patch adapter.Row) error {
	patch["updatedAt"] = time.Now()
	_, err := s.db.Update(ctx, modelAccount, whereEq("id", id), patch)
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return s.wrapStorageErr("update account", err)
	}
	return nil
}

/*
====================================
ROW VALUE HELPERS
====================================
*/

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func when(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
