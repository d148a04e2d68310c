package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bookswap-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/pagination"
)

type stubStore struct {
	rows     []models.Notification
	unread   int64
	found    bool
	updated  int64
	err      error
	lastList listQuery
	markedAt time.Time
}

func (s *stubStore) List(_ context.Context, q listQuery) ([]models.Notification, error) {
	s.lastList = q
	return s.rows, s.err
}

func (s *stubStore) CountUnread(context.Context, uuid.UUID) (int64, error) {
	return s.unread, s.err
}

func (s *stubStore) MarkRead(_ context.Context, _, _ uuid.UUID, at time.Time) (bool, error) {
	s.markedAt = at
	return s.found, s.err
}

func (s *stubStore) MarkAllRead(_ context.Context, _ uuid.UUID, at time.Time) (int64, error) {
	s.markedAt = at
	return s.updated, s.err
}

func newTestService(t *testing.T, st *stubStore) *service {
	t.Helper()
	svc, err := NewService(st)
	require.NoError(t, err)
	impl := svc.(*service)
	impl.now = func() time.Time { return time.Date(2026, 4, 1, 10, 0, 0, 0, time.FixedZone("SAST", 2*60*60)) }
	return impl
}

func TestListBuildsPage(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	readAt := base.Add(time.Hour)
	st := &stubStore{
		unread: 4,
		rows: []models.Notification{
			{ID: uuid.New(), Title: "newest", CreatedAt: base.Add(2 * time.Minute)},
			{ID: uuid.New(), Title: "middle", CreatedAt: base.Add(time.Minute), ReadAt: &readAt},
			{ID: uuid.New(), Title: "buffer row", CreatedAt: base},
		},
	}
	svc := newTestService(t, st)

	result, err := svc.List(context.Background(), ListParams{UserID: uuid.New(), Limit: 2, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, int64(4), result.Unread)
	assert.False(t, result.Items[0].Read)
	assert.True(t, result.Items[1].Read)
	assert.True(t, st.lastList.UnreadOnly)
	assert.Nil(t, st.lastList.Cursor)

	next, err := pagination.ParseCursor(result.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, st.rows[1].ID, next.ID)
}

func TestListPassesCursor(t *testing.T) {
	st := &stubStore{}
	svc := newTestService(t, st)
	cursor := pagination.Cursor{CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), ID: uuid.New()}

	result, err := svc.List(context.Background(), ListParams{UserID: uuid.New(), Cursor: pagination.EncodeCursor(cursor)})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Empty(t, result.NextCursor)
	require.NotNil(t, st.lastList.Cursor)
	assert.Equal(t, cursor.ID, st.lastList.Cursor.ID)
}

func TestListValidation(t *testing.T) {
	svc := newTestService(t, &stubStore{})

	_, err := svc.List(context.Background(), ListParams{})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.List(context.Background(), ListParams{UserID: uuid.New(), Cursor: "bad"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestMarkRead(t *testing.T) {
	st := &stubStore{found: true}
	svc := newTestService(t, st)
	require.NoError(t, svc.MarkRead(context.Background(), uuid.New(), uuid.New()))
	assert.Equal(t, time.UTC, st.markedAt.Location())

	st.found = false
	err := svc.MarkRead(context.Background(), uuid.New(), uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	err = svc.MarkRead(context.Background(), uuid.New(), uuid.Nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestMarkAllRead(t *testing.T) {
	st := &stubStore{updated: 3}
	svc := newTestService(t, st)

	n, err := svc.MarkAllRead(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	st.err = errors.New("db down")
	_, err = svc.MarkAllRead(context.Background(), uuid.New())
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}
