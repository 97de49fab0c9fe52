package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telemtx/mtproto/updates"
)

func sampleSession() *Session {
	return &Session{
		DCs: []DataCenter{
			{ID: 2, Addr: "149.154.167.51:443", AuthKey: []byte{1, 2, 3, 4}},
		},
		User: &User{ID: 1001, DC: 2, Bot: false},
		State: &updates.SessionState{
			Pts: 10, Qts: 2, Date: 100, Seq: 1,
			Channels: []updates.ChannelState{{ID: 555, Pts: 9}},
		},
	}
}

func TestMemoryStorageRoundTrip(t *testing.T) {
	m := NewMemoryStorage()

	empty, err := m.Load()
	require.NoError(t, err)
	require.Nil(t, empty.User)

	require.NoError(t, m.Save(sampleSession()))

	loaded, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, int64(1001), loaded.User.ID)
	require.Equal(t, int32(10), loaded.State.Pts)
	require.Len(t, loaded.DCs, 1)

	require.NoError(t, m.Delete())
	empty2, err := m.Load()
	require.NoError(t, err)
	require.Nil(t, empty2.User)
}

func TestFileStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.dat")
	fs := OpenFileStorage(path, []byte("correct horse battery staple"))
	defer fs.Close()

	empty, err := fs.Load()
	require.NoError(t, err)
	require.Nil(t, empty.User)

	require.NoError(t, fs.Save(sampleSession()))

	loaded, err := fs.Load()
	require.NoError(t, err)
	require.Equal(t, int64(1001), loaded.User.ID)
	require.Equal(t, "149.154.167.51:443", loaded.DCs[0].Addr)
	require.Equal(t, int32(9), loaded.State.Channels[0].Pts)

	require.NoError(t, fs.Delete())
	empty2, err := fs.Load()
	require.NoError(t, err)
	require.Nil(t, empty2.User)
}

func TestFileStorageWrongPassphraseFailsToDecrypt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.dat")
	fs := OpenFileStorage(path, []byte("right passphrase"))
	require.NoError(t, fs.Save(sampleSession()))
	fs.Close()

	fs2 := OpenFileStorage(path, []byte("wrong passphrase"))
	defer fs2.Close()
	_, err := fs2.Load()
	require.Error(t, err)
}

func TestBoltStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.bolt")
	b, err := OpenBoltStorage(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Save(sampleSession()))

	loaded, err := b.Load()
	require.NoError(t, err)
	require.Equal(t, int64(1001), loaded.User.ID)
	require.Equal(t, int32(1), loaded.State.Seq)

	require.NoError(t, b.Delete())
	empty, err := b.Load()
	require.NoError(t, err)
	require.Nil(t, empty.User)
}
