package chat

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestConnManager(t *testing.T) {
	req := require.New(t)
	m := NewConnManager([]string{"QGIS"})

	// Given
	a := newClient("QGIS", newFakeConn("a"), 0)
	b := newClient("QGIS", newFakeConn("b"), 0)
	stray := newClient("Nope", newFakeConn("x"), 0)

	// When
	req.True(m.Add(a))
	req.True(m.Add(b))
	req.False(m.Add(stray))

	// Then
	req.True(m.HasRoom("QGIS"))
	req.False(m.HasRoom("Nope"))
	req.Equal(2, m.Count("QGIS"))
	req.ElementsMatch([]*Client{a, b}, m.Clients("QGIS"))

	req.True(m.Remove(a))
	req.False(m.Remove(a))
	req.Equal(1, m.Count("QGIS"))
}

func TestConnManagerCloseAll(t *testing.T) {
	req := require.New(t)
	m := NewConnManager([]string{"QGIS", "Geotribu"})
	ca, cb := newFakeConn("a"), newFakeConn("b")
	req.True(m.Add(newClient("QGIS", ca, 0)))
	req.True(m.Add(newClient("Geotribu", cb, 0)))

	m.Close()

	req.Zero(m.Count("QGIS"))
	req.Zero(m.Count("Geotribu"))
	req.True(ca.isClosed())
	req.Equal(websocket.CloseGoingAway, cb.code)
}

func TestClientEnqueueAfterClose(t *testing.T) {
	c := newClient("QGIS", newFakeConn("a"), 1)
	require.True(t, c.enqueue([]byte("1")))
	require.False(t, c.enqueue([]byte("2")))

	c.close(websocket.CloseNormalClosure, "")
	c.close(websocket.CloseNormalClosure, "")
	require.False(t, c.enqueue([]byte("3")))
}
