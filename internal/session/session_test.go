package session

import (
	"errors"
	"testing"
	"time"

	"github.com/raine/skinanalyze/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingBackend struct {
	*storage.MemoryStore
}

func (f *failingBackend) Get(clientID string) (*storage.StoredSession, error) {
	return nil, errors.New("disk on fire")
}

func TestStore_SetGetClear(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())

	assert.False(t, store.Get("c1").LoggedIn())

	require.NoError(t, store.Set("c1", "tok", "alice"))
	got := store.Get("c1")
	assert.Equal(t, Session{Token: "tok", Username: "alice"}, got)
	assert.True(t, got.LoggedIn())

	// Other clients are unaffected
	assert.False(t, store.Get("c2").LoggedIn())

	require.NoError(t, store.Clear("c1"))
	assert.Equal(t, Session{}, store.Get("c1"))
}

func TestStore_TokenAndUsernameNeverSplit(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())

	cases := []struct{ token, username string }{
		{"", "alice"},
		{"tok", ""},
		{"", ""},
	}
	for _, c := range cases {
		err := store.Set("c", c.token, c.username)
		assert.ErrorIs(t, err, ErrIncomplete)
		s := store.Get("c")
		assert.Equal(t, s.Token == "", s.Username == "", "token and username must be present together")
	}

	require.NoError(t, store.Set("c", "tok", "alice"))
	assert.ErrorIs(t, store.Set("c", "", "bob"), ErrIncomplete)
	assert.Equal(t, Session{Token: "tok", Username: "alice"}, store.Get("c"))
}

func TestStore_ReadFailureIsLoggedOut(t *testing.T) {
	store := NewStore(&failingBackend{MemoryStore: storage.NewMemoryStore()})
	assert.Equal(t, Session{}, store.Get("c"))
}

func TestStore_SubscribeReceivesChanges(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())

	tab1, cancel1 := store.Subscribe("c1")
	defer cancel1()
	tab2, cancel2 := store.Subscribe("c1")
	defer cancel2()
	other, cancelOther := store.Subscribe("c2")
	defer cancelOther()

	require.NoError(t, store.Set("c1", "tok", "alice"))

	for _, ch := range []<-chan Change{tab1, tab2} {
		select {
		case change := <-ch:
			assert.Equal(t, "c1", change.ClientID)
			assert.True(t, change.Session.LoggedIn())
		case <-time.After(time.Second):
			t.Fatal("expected change notification")
		}
	}

	select {
	case <-other:
		t.Fatal("other client must not be notified")
	default:
	}

	require.NoError(t, store.Clear("c1"))
	change := <-tab1
	assert.False(t, change.Session.LoggedIn())
}

func TestStore_CancelClosesChannel(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())
	ch, cancel := store.Subscribe("c1")
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic
	require.NoError(t, store.Set("c1", "tok", "alice"))
}
