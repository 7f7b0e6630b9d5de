package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	notified []string
	kicked   []string
}

func (f *fakeConn) Notify(message string) error {
	f.notified = append(f.notified, message)
	return nil
}

func (f *fakeConn) Kick(reason string) error {
	f.kicked = append(f.kicked, reason)
	return nil
}

func TestRegisterLookup(t *testing.T) {
	dir := New()
	conn := &fakeConn{}

	previous := dir.Register(7, "Farmacia Centro", conn)
	assert.Nil(t, previous)

	byID := dir.LookupByID(7)
	require.NotNil(t, byID)
	assert.Equal(t, conn, byID.Conn)
	assert.Equal(t, "Farmacia Centro", byID.Name)
	assert.False(t, byID.ConnectedAt.IsZero())

	// Lookup by name is case-insensitive and trims whitespace.
	byName := dir.LookupByName("  farmacia CENTRO ")
	require.NotNil(t, byName)
	assert.Same(t, byID, byName)

	assert.Equal(t, 1, dir.Len())
	assert.Equal(t, []string{"Farmacia Centro"}, dir.Names())
}

func TestUnregister_RemovesBothIndices(t *testing.T) {
	dir := New()
	conn := &fakeConn{}
	dir.Register(7, "Farmacia Centro", conn)

	dir.Unregister(7, "Farmacia Centro", conn)
	assert.Nil(t, dir.LookupByID(7))
	assert.Nil(t, dir.LookupByName("farmacia centro"))
	assert.Equal(t, 0, dir.Len())

	// Second unregister is a no-op, not a panic or error.
	dir.Unregister(7, "Farmacia Centro", conn)
	assert.Equal(t, 0, dir.Len())
}

func TestRegister_SecondConnectionDisplacesFirst(t *testing.T) {
	dir := New()
	first := &fakeConn{}
	second := &fakeConn{}

	dir.Register(7, "Farmacia Centro", first)
	previous := dir.Register(7, "Farmacia Centro", second)

	require.NotNil(t, previous)
	assert.Equal(t, first, previous.Conn)
	assert.Equal(t, second, dir.LookupByID(7).Conn)
	assert.Equal(t, 1, dir.Len())
}

func TestUnregister_SupersededConnDoesNotEvictSuccessor(t *testing.T) {
	dir := New()
	first := &fakeConn{}
	second := &fakeConn{}

	dir.Register(7, "Farmacia Centro", first)
	dir.Register(7, "Farmacia Centro", second)

	// The orphaned first session's cleanup runs late; the new entry stays.
	dir.Unregister(7, "Farmacia Centro", first)

	entry := dir.LookupByID(7)
	require.NotNil(t, entry)
	assert.Equal(t, second, entry.Conn)
	require.NotNil(t, dir.LookupByName("farmacia centro"))
}

func TestLookup_Absent(t *testing.T) {
	dir := New()
	assert.Nil(t, dir.LookupByID(42))
	assert.Nil(t, dir.LookupByName("nowhere"))
	assert.Empty(t, dir.Names())
}
