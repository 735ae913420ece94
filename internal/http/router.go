package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（/metrics 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterSystemRoutes 健康检查与指标
func (r *Router) RegisterSystemRoutes() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
	r.HandleHandler("/metrics", promhttp.Handler())
}

// RegisterHousingRoutes 注册住宿管理 API
func (r *Router) RegisterHousingRoutes(h *HousingHandler) {
	for _, ep := range []personEndpoints{h.employees(), h.nonEmployees(), h.bokResidents()} {
		handler := h.People(ep)
		r.Handle(ep.prefix, handler)
		r.Handle(ep.prefix+"/", handler)
	}

	r.Handle(apiPrefix+"/settings", h.Settings)

	r.Handle(apiPrefix+"/addresses", h.Addresses)
	r.Handle(apiPrefix+"/addresses/", h.Addresses)

	r.Handle(apiPrefix+"/occupancy", h.Occupancy)

	r.Handle(apiPrefix+"/notifications", h.Notifications)
	r.Handle(apiPrefix+"/notifications/", h.Notifications)

	r.Handle(apiPrefix+"/audit-log", h.AuditLog)

	r.Handle(apiPrefix+"/address-history", h.AddressHistory)
	r.Handle(apiPrefix+"/address-history/", h.AddressHistory)

	r.Handle(apiPrefix+"/statuses/refresh", h.RefreshStatuses)
}
