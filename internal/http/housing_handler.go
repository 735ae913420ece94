package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"smarthouse-data/internal/codec"
	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/repository"
	"smarthouse-data/internal/sheets"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const apiPrefix = "/housing/api/v1"

// HousingHandler 仓储之上的 JSON API
type HousingHandler struct {
	repo   *repository.Repository
	codecs *codec.Registry
	logger *zap.Logger

	// SweepActorID 手动触发状态扫描时记录的操作者
	SweepActorID string
}

func NewHousingHandler(repo *repository.Repository, codecs *codec.Registry, logger *zap.Logger) *HousingHandler {
	return &HousingHandler{repo: repo, codecs: codecs, logger: logger, SweepActorID: "system"}
}

// fail 仓储错误 -> HTTP 状态码
func (h *HousingHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
	case errors.Is(err, repository.ErrInvalidRecord):
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
	case repository.IsRetryable(err):
		h.logger.Warn("remote store busy", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, Retry("remote store is busy, please try again"))
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("method", r.Method), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}

func (h *HousingHandler) requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, Fail("missing "+HeaderUserID))
	}
	return actor, ok
}

// personEndpoints 一类人员的仓储操作
type personEndpoints struct {
	prefix string
	list   func(ctx context.Context, f repository.PeopleFilter) (any, error)
	get    func(ctx context.Context, id string) (any, error)
	add    func(ctx context.Context, actor domain.Actor, row sheets.Row) (any, error)
	update func(ctx context.Context, actor domain.Actor, id string, patch repository.Patch) (any, error)
	remove func(ctx context.Context, actor domain.Actor, id string) error
}

func (h *HousingHandler) employees() personEndpoints {
	return personEndpoints{
		prefix: apiPrefix + "/employees",
		list: func(ctx context.Context, f repository.PeopleFilter) (any, error) {
			return h.repo.ListEmployees(ctx, f)
		},
		get: func(ctx context.Context, id string) (any, error) { return h.repo.GetEmployee(ctx, id) },
		add: func(ctx context.Context, actor domain.Actor, row sheets.Row) (any, error) {
			e, ok := h.codecs.Employees.Decode(row)
			if !ok {
				return nil, repository.ErrInvalidRecord
			}
			return h.repo.AddEmployee(ctx, actor, e)
		},
		update: func(ctx context.Context, actor domain.Actor, id string, patch repository.Patch) (any, error) {
			return h.repo.UpdateEmployee(ctx, actor, id, patch)
		},
		remove: h.repo.RemoveEmployee,
	}
}

func (h *HousingHandler) nonEmployees() personEndpoints {
	return personEndpoints{
		prefix: apiPrefix + "/non-employees",
		list: func(ctx context.Context, f repository.PeopleFilter) (any, error) {
			return h.repo.ListNonEmployees(ctx, f)
		},
		get: func(ctx context.Context, id string) (any, error) { return h.repo.GetNonEmployee(ctx, id) },
		add: func(ctx context.Context, actor domain.Actor, row sheets.Row) (any, error) {
			n, ok := h.codecs.NonEmployees.Decode(row)
			if !ok {
				return nil, repository.ErrInvalidRecord
			}
			return h.repo.AddNonEmployee(ctx, actor, n)
		},
		update: func(ctx context.Context, actor domain.Actor, id string, patch repository.Patch) (any, error) {
			return h.repo.UpdateNonEmployee(ctx, actor, id, patch)
		},
		remove: h.repo.RemoveNonEmployee,
	}
}

func (h *HousingHandler) bokResidents() personEndpoints {
	return personEndpoints{
		prefix: apiPrefix + "/bok-residents",
		list: func(ctx context.Context, f repository.PeopleFilter) (any, error) {
			return h.repo.ListBokResidents(ctx, f)
		},
		get: func(ctx context.Context, id string) (any, error) { return h.repo.GetBokResident(ctx, id) },
		add: func(ctx context.Context, actor domain.Actor, row sheets.Row) (any, error) {
			b, ok := h.codecs.BokResidents.Decode(row)
			if !ok {
				return nil, repository.ErrInvalidRecord
			}
			return h.repo.AddBokResident(ctx, actor, b)
		},
		update: func(ctx context.Context, actor domain.Actor, id string, patch repository.Patch) (any, error) {
			return h.repo.UpdateBokResident(ctx, actor, id, patch)
		},
		remove: h.repo.RemoveBokResident,
	}
}

// People 集合路由：GET/POST {prefix}，GET/PUT/DELETE {prefix}/{id}
// 请求体按表格列名（与表头一致），日期可用任意支持的格式
func (h *HousingHandler) People(ep personEndpoints) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if r.URL.Path == ep.prefix {
			switch r.Method {
			case http.MethodGet:
				q := r.URL.Query()
				items, err := ep.list(ctx, repository.PeopleFilter{
					CoordinatorID: q.Get("coordinatorId"),
					Status:        domain.Status(q.Get("status")),
					Address:       q.Get("address"),
				})
				if err != nil {
					h.fail(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, Ok(items))
			case http.MethodPost:
				actor, ok := h.requireActor(w, r)
				if !ok {
					return
				}
				var row sheets.Row
				if err := readBodyJSON(r, maxBodyBytes, &row); err != nil || row == nil {
					writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
					return
				}
				// 新记录 id 由服务端分配；解码时需要一个占位 id
				if strings.TrimSpace(row.String("id")) == "" {
					row["id"] = uuid.NewString()
				}
				created, err := ep.add(ctx, actor, row)
				if err != nil {
					h.fail(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, Ok(created))
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
			return
		}

		id, ok := pathID(r.URL.Path, ep.prefix+"/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			item, err := ep.get(ctx, id)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, Ok(item))
		case http.MethodPut, http.MethodPatch:
			actor, ok := h.requireActor(w, r)
			if !ok {
				return
			}
			var patch repository.Patch
			if err := readBodyJSON(r, maxBodyBytes, &patch); err != nil {
				writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
				return
			}
			updated, err := ep.update(ctx, actor, id, patch)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, Ok(updated))
		case http.MethodDelete:
			actor, ok := h.requireActor(w, r)
			if !ok {
				return
			}
			if err := ep.remove(ctx, actor, id); err != nil {
				h.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, Ok[any](nil))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// Settings GET / PUT /settings
func (h *HousingHandler) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s, err := h.repo.Settings(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(s))
	case http.MethodPut:
		actor, ok := h.requireActor(w, r)
		if !ok {
			return
		}
		var patch repository.SettingsPatch
		if err := readBodyJSON(r, maxBodyBytes, &patch); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		s, err := h.repo.UpdateSettings(r.Context(), actor, patch)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(s))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type roomRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	IsActive *bool  `json:"isActive"`
}

type addressRequest struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Locality       string        `json:"locality"`
	CoordinatorIDs []string      `json:"coordinatorIds"`
	Rooms          []roomRequest `json:"rooms"`
	IsActive       *bool         `json:"isActive"`
}

// address 未给出的 isActive 视为 true
func (req addressRequest) address() domain.Address {
	a := domain.Address{
		ID:             req.ID,
		Name:           req.Name,
		Locality:       req.Locality,
		CoordinatorIDs: req.CoordinatorIDs,
		IsActive:       req.IsActive == nil || *req.IsActive,
		Rooms:          make([]domain.Room, 0, len(req.Rooms)),
	}
	for _, room := range req.Rooms {
		a.Rooms = append(a.Rooms, domain.Room{
			ID:       room.ID,
			Name:     room.Name,
			Capacity: room.Capacity,
			IsActive: room.IsActive == nil || *room.IsActive,
		})
	}
	return a
}

// Addresses POST /addresses，PUT/DELETE /addresses/{id}，POST /addresses/{id}/rename
func (h *HousingHandler) Addresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	base := apiPrefix + "/addresses"
	if r.URL.Path == base {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		actor, ok := h.requireActor(w, r)
		if !ok {
			return
		}
		var req addressRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		a, err := h.repo.AddAddress(ctx, actor, req.address())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(a))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, base+"/")
	if id, ok := strings.CutSuffix(path, "/rename"); ok && id != "" && !strings.Contains(id, "/") {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		actor, ok := h.requireActor(w, r)
		if !ok {
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		a, err := h.repo.RenameAddress(ctx, actor, id, req.Name)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(a))
		return
	}

	id, ok := pathID(r.URL.Path, base+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodPut:
		actor, ok := h.requireActor(w, r)
		if !ok {
			return
		}
		var req addressRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
			return
		}
		req.ID = id
		a, err := h.repo.UpdateAddress(ctx, actor, req.address())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(a))
	case http.MethodDelete:
		actor, ok := h.requireActor(w, r)
		if !ok {
			return
		}
		if err := h.repo.RemoveAddress(ctx, actor, id); err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok[any](nil))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Occupancy GET /occupancy?coordinatorId=
func (h *HousingHandler) Occupancy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	view, err := h.repo.Occupancy(r.Context(), r.URL.Query().Get("coordinatorId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// Notifications GET /notifications，POST /notifications/{id}/read，POST /notifications/read-all
func (h *HousingHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	base := apiPrefix + "/notifications"
	q := r.URL.Query()

	switch {
	case r.URL.Path == base:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		items, err := h.repo.ListNotifications(ctx, repository.NotificationFilter{
			RecipientID: q.Get("recipientId"),
			UnreadOnly:  parseBool(q.Get("unread"), false),
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(items))

	case r.URL.Path == base+"/read-all":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		n, err := h.repo.MarkAllNotificationsRead(ctx, q.Get("recipientId"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]int{"marked": n}))

	default:
		id, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, base+"/"), "/read")
		if !ok || id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.repo.MarkNotificationRead(ctx, id); err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok[any](nil))
	}
}

// AuditLog GET /audit-log?targetId=&actorId=
func (h *HousingHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	items, err := h.repo.ListAuditLog(r.Context(), repository.AuditFilter{
		TargetID: q.Get("targetId"),
		ActorID:  q.Get("actorId"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

// AddressHistory GET /address-history?employeeId=，DELETE /address-history/{id}
func (h *HousingHandler) AddressHistory(w http.ResponseWriter, r *http.Request) {
	base := apiPrefix + "/address-history"
	if r.URL.Path == base {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		items, err := h.repo.ListAddressHistory(r.Context(), r.URL.Query().Get("employeeId"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(items))
		return
	}
	id, ok := pathID(r.URL.Path, base+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	if err := h.repo.RemoveAddressHistory(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// RefreshStatuses POST /statuses/refresh
func (h *HousingHandler) RefreshStatuses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res, err := h.repo.RefreshStatuses(r.Context(), h.SweepActorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}
