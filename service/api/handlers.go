package api

import (
	"net/http"
	"slices"
	"strings"

	"gischat/global"
	"gischat/module/message"
	"gischat/service/storage"
	"gischat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type roomStatus struct {
	Name             string `json:"name"`
	NbConnectedUsers int64  `json:"nb_connected_users"`
}

type statusBody struct {
	Status  string       `json:"status"`
	Healthy bool         `json:"healthy"`
	Rooms   []roomStatus `json:"rooms"`
}

// fail 错误码 -> HTTP 状态
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	detail := "Internal server error"
	switch {
	case errs.Is(err, errs.ErrRoomNotFound), errs.Is(err, errs.ErrBridgeRequestNotFound):
		status, detail = http.StatusNotFound, message.Reason(err)
	case errs.Is(err, errs.ErrValidation), errs.Is(err, errs.ErrUnknownMessageType):
		status, detail = http.StatusUnprocessableEntity, message.Reason(err)
	case errs.Is(err, errs.ErrBrokerUnavailable):
		status, detail = http.StatusServiceUnavailable, "Broker unavailable"
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("[HTTP] request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, global.Fail(detail))
}

func (s *Server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": s.opts.Version})
}

func (s *Server) getRooms(c *gin.Context) {
	c.JSON(http.StatusOK, s.chat.Rooms())
}

func (s *Server) getStatus(c *gin.Context) {
	body := statusBody{Status: "ok", Healthy: true, Rooms: make([]roomStatus, 0)}
	for _, room := range s.chat.Rooms() {
		n, err := s.chat.NbUsers(c.Request.Context(), room)
		if err != nil {
			s.fail(c, err)
			return
		}
		body.Rooms = append(body.Rooms, roomStatus{Name: room, NbConnectedUsers: n})
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getRules(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Rules)
}

// getUsers 按不区分大小写排序
func (s *Server) getUsers(c *gin.Context) {
	names, err := s.chat.Nicknames(c.Request.Context(), c.Param("room"))
	if err != nil {
		s.fail(c, err)
		return
	}
	names = lo.Ternary(names == nil, []string{}, names)
	slices.SortStableFunc(names, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	c.JSON(http.StatusOK, names)
}

func (s *Server) getLast(c *gin.Context) {
	msgs, err := s.chat.History(c.Request.Context(), c.Param("room"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) putText(c *gin.Context) {
	room := c.Param("room")
	if !s.chat.HasRoom(room) {
		s.fail(c, errs.ErrRoomNotFound.WrapMsg("Room '"+room+"' not registered"))
		return
	}
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.fail(c, errs.ErrValidation.WrapMsg("Validation error: payload must be a JSON object"))
		return
	}
	msg, err := s.chat.SubmitText(c.Request.Context(), room, payload)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) putMatrixRegister(c *gin.Context) {
	var creds storage.BridgeRequest
	if err := c.ShouldBindJSON(&creds); err != nil {
		s.fail(c, errs.ErrValidation.WrapMsg("Validation error: "+err.Error()))
		return
	}
	id, err := s.bridge.RegisterRequest(c.Request.Context(), creds)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) serveMatrix(c *gin.Context) {
	s.bridge.ServeBridge(c)
}
