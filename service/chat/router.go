package chat

import (
	"net/http"

	"LobbyHub/logger"
	"LobbyHub/middleware"
	midsec "LobbyHub/middleware/security"
	"LobbyHub/module/chat/model"
	usermodel "LobbyHub/module/user/model"
	"LobbyHub/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) routes() {
	get, put, del := http.MethodGet, http.MethodPut, http.MethodDelete

	wsGuards := []gin.HandlerFunc{
		middleware.Origin(s.conf.AllowedOrigins),
		midsec.Middleware(s.deps.Auth, nil),
	}
	internal := []gin.HandlerFunc{middleware.InternalToken(s.internal)}

	middleware.Mount(s.engine,
		middleware.Route{Method: get, Path: "/ws", Handler: s.HandleWS, Guards: wsGuards},
		middleware.Route{Method: get, Path: "/healthz", Handler: s.healthz},
		middleware.Route{Method: get, Path: "/api/presence/online", Handler: s.onlineUsers},
		middleware.Route{Method: get, Path: "/api/presence/:userID", Handler: s.userPresence},
	)
	middleware.Mount(s.engine, middleware.Guarded(internal,
		middleware.Route{Method: put, Path: "/internal/lobbies/:roomID", Handler: s.openLobby},
		middleware.Route{Method: del, Path: "/internal/lobbies/:roomID", Handler: s.closeLobby},
		middleware.Route{Method: put, Path: "/internal/users/:userID", Handler: s.upsertUser},
		middleware.Route{Method: del, Path: "/internal/users/:userID", Handler: s.deleteUser},
		middleware.Route{Method: http.MethodPost, Path: "/admin/audit", Handler: s.auditAll},
		middleware.Route{Method: get, Path: "/admin/audit/users/:userID", Handler: s.auditUser},
	)...)
}

// httpStatus maps a taxonomy error onto an HTTP status.
func httpStatus(err error) int {
	ce := errs.Public(err)
	switch ce.Code {
	case errs.ArgsError, errs.MalformedEventError:
		return http.StatusBadRequest
	case errs.UnauthorizedError:
		return http.StatusUnauthorized
	case errs.UserNotFoundError, errs.RoomNotFoundError, errs.RequestNotFoundError:
		return http.StatusNotFound
	case errs.TooManyRequestsError:
		return http.StatusTooManyRequests
	case errs.ServerInternalError:
		return http.StatusInternalServerError
	}
	return http.StatusConflict
}

func writeError(c *gin.Context, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("http: handler failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errs.Public(err))
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) onlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.deps.Registry.SnapshotOnlineUsers()})
}

// userPresence answers from this node's registry. A user with no local
// connection is looked up in the cluster mirror when one is configured.
func (s *Server) userPresence(c *gin.Context) {
	uid := c.Param("userID")
	resp := gin.H{
		"userID":      uid,
		"status":      s.deps.Registry.Status(uid),
		"connections": s.deps.Registry.ConnectionCount(uid),
	}
	if s.deps.Cluster != nil && s.deps.Registry.Status(uid) == model.StatusOffline {
		status, node, err := s.deps.Cluster.Lookup(c.Request.Context(), uid)
		if err != nil {
			logger.Warn("http: cluster presence lookup", zap.String("user", uid), zap.Error(err))
		} else if status != model.StatusOffline {
			resp["status"] = status
			resp["node"] = node
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) openLobby(c *gin.Context) {
	if err := s.deps.Dispatcher.LobbyOpened(c.Param("roomID")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) closeLobby(c *gin.Context) {
	if err := s.deps.Dispatcher.LobbyClosed(c.Param("roomID")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type upsertUserReq struct {
	DisplayName string `json:"displayName"`
}

func (s *Server) upsertUser(c *gin.Context) {
	var req upsertUserReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, errs.ErrArgs.WrapMsg(err.Error()))
			return
		}
	}
	u := usermodel.User{UserID: c.Param("userID"), Nickname: req.DisplayName}
	if err := s.deps.Dispatcher.UserUpserted(c.Request.Context(), u); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteUser(c *gin.Context) {
	if err := s.deps.Dispatcher.UserDeleted(c.Request.Context(), c.Param("userID")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) auditAll(c *gin.Context) {
	rep, err := s.deps.Auditor.AuditAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) auditUser(c *gin.Context) {
	rep, err := s.deps.Auditor.AuditUser(c.Request.Context(), c.Param("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
