package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tabkeeper/internal/logger"
	"tabkeeper/pkg/api"
	"tabkeeper/pkg/domain"
)

// CommandPath 命令入口路径
const CommandPath = "/api/command"

// Server 提供给控制端的 HTTP 命令入口
type Server struct {
	svc api.Service
	log logger.Logger
}

// NewServer 创建 HTTP 命令服务
func NewServer(svc api.Service, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	return &Server{svc: svc, log: l.With("component", "httpapi")}
}

// Routes 返回挂载了命令入口与健康检查的路由
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(CommandPath, s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// ServeHTTP 处理命令请求
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req api.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, api.Fail(err))
		return
	}

	start := time.Now()
	res := s.dispatch(r.Context(), &req)
	if !res.Success {
		s.log.Warn("命令执行失败", "action", req.Action, "error", res.Error)
	} else if req.Action != api.ActionGetState {
		// getState 每秒轮询一次，不记录
		s.log.Debug("命令已执行", "action", req.Action, "cost", time.Since(start).String())
	}
	writeResponse(w, res)
}

// dispatch 根据 action 分发命令
func (s *Server) dispatch(ctx context.Context, req *api.Request) api.Response {
	switch req.Action {
	case api.ActionStart:
		return stateResult(s.svc.Start(ctx))
	case api.ActionStop:
		return stateResult(s.svc.Stop(ctx))
	case api.ActionGetState:
		view := s.svc.GetState()
		return api.Response{Success: true, State: &view}
	case api.ActionUpdateConfig:
		cfg, err := s.svc.UpdateConfig(ctx, req.Config)
		if err != nil {
			return api.Fail(err)
		}
		return api.Response{Success: true, Config: &cfg}
	case api.ActionResetStats:
		return errResult(s.svc.ResetStats(ctx))
	case api.ActionForceActivity:
		return errResult(s.svc.ForceActivity(ctx))
	case api.ActionForceRotation:
		return errResult(s.svc.ForceRotation(ctx))
	case api.ActionActivityComplete:
		return errResult(s.svc.ActivityComplete(ctx))
	case api.ActionGetHistory:
		events, err := s.svc.History(ctx, req.Limit)
		if err != nil {
			return api.Fail(err)
		}
		if events == nil {
			events = []domain.ActivityEvent{}
		}
		return api.Response{Success: true, Events: events}
	default:
		return api.Fail(domain.ErrUnknownAction)
	}
}

func stateResult(view domain.StateView, err error) api.Response {
	if err != nil {
		return api.Fail(err)
	}
	return api.Response{Success: true, State: &view}
}

func errResult(err error) api.Response {
	if err != nil {
		return api.Fail(err)
	}
	return api.OK()
}

// writeResponse 写出统一响应
func writeResponse(w http.ResponseWriter, res api.Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(res)
}
