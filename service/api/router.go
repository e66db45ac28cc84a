package api

import (
	"gischat/middleware"
	"gischat/service/chat"
	"gischat/service/matrix"
	"gischat/tools/safe"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Rules GET /rules 的响应
type Rules struct {
	Rules              string `json:"rules"`
	MainLang           string `json:"main_lang"`
	MinAuthorLength    int    `json:"min_author_length"`
	MaxAuthorLength    int    `json:"max_author_length"`
	MaxMessageLength   int    `json:"max_message_length"`
	MaxImageSize       int    `json:"max_image_size"`
	MaxGeojsonFeatures int    `json:"max_geojson_features"`
}

type Options struct {
	Version       string
	Rules         Rules
	MatrixEnabled bool
}

// Server HTTP 外壳，只做参数解析与错误映射
type Server struct {
	opts   Options
	chat   *chat.Dispatcher
	bridge *matrix.Bridge // MatrixEnabled=false 时可为 nil
	log    *zap.Logger
}

func NewServer(opts Options, d *chat.Dispatcher, bridge *matrix.Bridge, log *zap.Logger) *Server {
	safe.MustNotNil(d, "dispatcher")
	safe.MustNotNil(log, "logger")
	if opts.MatrixEnabled {
		safe.MustNotNil(bridge, "matrix bridge")
	}
	return &Server{opts: opts, chat: d, bridge: bridge, log: log}
}

// Router 注册全部路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	mids := middleware.NewManager(middleware.AccessLog(s.log), middleware.Recovery(s.log))
	r.Use(mids.Use())

	open := middleware.RouteOpt{}
	middleware.GET(r, "/version", s.getVersion, open)
	middleware.GET(r, "/rooms", s.getRooms, open)
	middleware.GET(r, "/status", s.getStatus, open)
	middleware.GET(r, "/rules", s.getRules, open)

	room := r.Group("/room/:room")
	middleware.GET(room, "/users", s.getUsers, open)
	middleware.GET(room, "/last", s.getLast, open)
	middleware.PUT(room, "/text", s.putText, open)
	middleware.GET(room, "/ws", s.chat.ServeRoom, open)

	mx := middleware.RouteOpt{Matrix: true, MatrixEnabled: s.opts.MatrixEnabled}
	middleware.PUT(r, "/matrix/register", s.putMatrixRegister, mx)
	middleware.GET(r, "/matrix/ws/:request_id", s.serveMatrix, mx)
	return r
}
