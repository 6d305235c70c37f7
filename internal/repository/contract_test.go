package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progkeeper/api/internal/models"
)

type userStore interface {
	Create(ctx context.Context, user models.User) (int64, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	GetByID(ctx context.Context, id int64) (models.User, error)
	MarkDeleted(ctx context.Context, id int64) error
}

type sessionStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, session models.Session) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	Refresh(ctx context.Context, id, ip string, now, expiry time.Time, maxIPs int) (models.Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

var tokenSeq int

func testToken() string {
	tokenSeq++
	return fmt.Sprintf("%064x", tokenSeq)
}

// runContract exercises behaviour both store implementations must share.
func runContract(t *testing.T, users userStore, sessions sessionStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	newUser := func(t *testing.T, name string) int64 {
		t.Helper()
		nick := strings.ToUpper(name)
		id, err := users.Create(ctx, models.User{Username: name, PasswordHash: []byte("hash"), Nickname: &nick})
		require.NoError(t, err)
		return id
	}

	t.Run("user create and lookup", func(t *testing.T) {
		id := newUser(t, "alice")
		assert.Positive(t, id)

		got, err := users.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, []byte("hash"), got.PasswordHash)
		require.NotNil(t, got.Nickname)
		assert.Equal(t, "ALICE", *got.Nickname)

		byID, err := users.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Username)
	})

	t.Run("duplicate username", func(t *testing.T) {
		newUser(t, "bob")
		_, err := users.Create(ctx, models.User{Username: "bob", PasswordHash: []byte("x")})
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("nickname longer than the column", func(t *testing.T) {
		long := strings.Repeat("n", models.MaxNicknameLength+1)
		_, err := users.Create(ctx, models.User{Username: "longnick", PasswordHash: []byte("x"), Nickname: &long})
		assert.ErrorIs(t, err, ErrValueTooLong)
		assert.True(t, IsPermanent(err))

		_, err = users.FindByUsername(ctx, "longnick")
		assert.ErrorIs(t, err, ErrUserNotFound)

		fits := strings.Repeat("é", models.MaxNicknameLength)
		_, err = users.Create(ctx, models.User{Username: "longnick", PasswordHash: []byte("x"), Nickname: &fits})
		assert.NoError(t, err)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := users.FindByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = users.GetByID(ctx, 999999)
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.ErrorIs(t, users.MarkDeleted(ctx, 999999), ErrUserNotFound)
	})

	t.Run("soft delete hides username but keeps it reserved", func(t *testing.T) {
		id := newUser(t, "carol")
		require.NoError(t, users.MarkDeleted(ctx, id))

		_, err := users.FindByUsername(ctx, "carol")
		assert.ErrorIs(t, err, ErrUserNotFound)

		got, err := users.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Deleted)

		_, err = users.Create(ctx, models.User{Username: "carol", PasswordHash: []byte("x")})
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("session lifecycle", func(t *testing.T) {
		uid := newUser(t, "dave")
		tok := testToken()

		exists, err := sessions.Exists(ctx, tok)
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, sessions.Create(ctx, models.Session{ID: tok, UserID: uid, Expiry: base.Add(time.Hour)}))
		assert.ErrorIs(t, sessions.Create(ctx, models.Session{ID: tok, UserID: uid, Expiry: base.Add(time.Hour)}), ErrSessionExists)

		exists, err = sessions.Exists(ctx, tok)
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := sessions.GetByID(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, uid, got.UserID)
		assert.True(t, got.Expiry.Equal(base.Add(time.Hour)))
		assert.Empty(t, got.IPAudit)

		require.NoError(t, sessions.DeleteByID(ctx, tok))
		assert.ErrorIs(t, sessions.DeleteByID(ctx, tok), ErrSessionNotFound)
		_, err = sessions.GetByID(ctx, tok)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("session for unknown user", func(t *testing.T) {
		err := sessions.Create(ctx, models.Session{ID: testToken(), UserID: 999999, Expiry: base.Add(time.Hour)})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("refresh never shortens expiry", func(t *testing.T) {
		uid := newUser(t, "erin")
		tok := testToken()
		require.NoError(t, sessions.Create(ctx, models.Session{ID: tok, UserID: uid, Expiry: base.Add(2 * time.Hour)}))

		got, err := sessions.Refresh(ctx, tok, "", base, base.Add(time.Hour), 64)
		require.NoError(t, err)
		assert.True(t, got.Expiry.Equal(base.Add(2*time.Hour)))

		got, err = sessions.Refresh(ctx, tok, "", base, base.Add(3*time.Hour), 64)
		require.NoError(t, err)
		assert.True(t, got.Expiry.Equal(base.Add(3*time.Hour)))
	})

	t.Run("refresh does not revive expired sessions", func(t *testing.T) {
		uid := newUser(t, "frank")
		tok := testToken()
		require.NoError(t, sessions.Create(ctx, models.Session{ID: tok, UserID: uid, Expiry: base.Add(-time.Minute)}))

		_, err := sessions.Refresh(ctx, tok, "10.0.0.1", base, base.Add(time.Hour), 64)
		assert.ErrorIs(t, err, ErrSessionNotFound)

		got, err := sessions.GetByID(ctx, tok)
		require.NoError(t, err)
		assert.True(t, got.Expiry.Equal(base.Add(-time.Minute)))
		assert.Empty(t, got.IPAudit)

		_, err = sessions.Refresh(ctx, testToken(), "", base, base.Add(time.Hour), 64)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("ip audit dedupes and caps", func(t *testing.T) {
		uid := newUser(t, "grace")
		tok := testToken()
		require.NoError(t, sessions.Create(ctx, models.Session{ID: tok, UserID: uid, Expiry: base.Add(time.Hour), IPAudit: []string{"1.1.1.1"}}))

		for _, ip := range []string{"2.2.2.2", "1.1.1.1", "3.3.3.3", "2.2.2.2"} {
			_, err := sessions.Refresh(ctx, tok, ip, base, base.Add(time.Hour), 3)
			require.NoError(t, err)
		}
		got, err := sessions.GetByID(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, got.IPAudit)

		got, err = sessions.Refresh(ctx, tok, "4.4.4.4", base, base.Add(time.Hour), 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"2.2.2.2", "3.3.3.3", "4.4.4.4"}, got.IPAudit)
	})

	t.Run("list, delete by user and prune", func(t *testing.T) {
		uid := newUser(t, "heidi")
		other := newUser(t, "ivan")

		live1, live2, dead, foreign := testToken(), testToken(), testToken(), testToken()
		require.NoError(t, sessions.Create(ctx, models.Session{ID: live1, UserID: uid, Expiry: base.Add(time.Hour)}))
		require.NoError(t, sessions.Create(ctx, models.Session{ID: live2, UserID: uid, Expiry: base.Add(time.Hour)}))
		require.NoError(t, sessions.Create(ctx, models.Session{ID: dead, UserID: uid, Expiry: base.Add(-time.Hour)}))
		require.NoError(t, sessions.Create(ctx, models.Session{ID: foreign, UserID: other, Expiry: base.Add(time.Hour)}))

		list, err := sessions.ListByUser(ctx, uid)
		require.NoError(t, err)
		assert.Len(t, list, 3)

		pruned, err := sessions.DeleteExpired(ctx, base)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pruned, int64(1))
		_, err = sessions.GetByID(ctx, dead)
		assert.ErrorIs(t, err, ErrSessionNotFound)

		n, err := sessions.DeleteByUser(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		list, err = sessions.ListByUser(ctx, uid)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = sessions.GetByID(ctx, foreign)
		assert.NoError(t, err)
	})
}
