package global

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomKeys(t *testing.T) {
	req := require.New(t)

	req.Equal("iid:abc;room:QGIS", RoomChannelKey("abc", "QGIS"))
	req.Equal("iid:abc;room:QGIS;nb_users", RoomNbUsersKey("abc", "QGIS"))
	req.Equal("iid:abc;room:QGIS;registered_users", RoomRegisteredUsersKey("abc", "QGIS"))
	req.Equal("iid:abc;room:QGIS;last_messages", RoomLastMessagesKey("abc", "QGIS"))
	req.Equal("iid:abc;matrix_request:r1", MatrixRequestKey("abc", "r1"))
}
