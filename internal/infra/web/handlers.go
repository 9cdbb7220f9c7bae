package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"membership-engine/internal/domain"
	"membership-engine/internal/domain/model"
	"membership-engine/internal/infra/metrics"
	"membership-engine/internal/usecase"

	"github.com/go-chi/chi/v5"
)

type subscribeRequest struct {
	UserID        string  `json:"user_id"`
	ExternalRef   string  `json:"external_ref"`
	OriginOrderID string  `json:"origin_order_id"`
	Kind          string  `json:"kind"`
	LevelCode     string  `json:"level_code"`
	LevelWeight   int     `json:"level_weight"`
	PointsAmount  int     `json:"points_amount"`
	CycleDays     int     `json:"cycle_days"`
	ContractID    *string `json:"contract_id,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type entitlementDTO struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Kind           string     `json:"kind"`
	LevelCode      string     `json:"level_code"`
	LevelWeight    int        `json:"level_weight"`
	PointsAmount   int        `json:"points_amount"`
	Status         string     `json:"status"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CycleDays      int        `json:"cycle_days"`
	IsCompensation bool       `json:"is_compensation"`
	Origin         string     `json:"origin"`
	AutoRenew      bool       `json:"auto_renew"`
	QueuePos       int        `json:"queue_pos"`
	PrevID         *string    `json:"prev_id,omitempty"`
	NextID         *string    `json:"next_id,omitempty"`
	CancelReason   *string    `json:"cancel_reason,omitempty"`
}

func toDTO(e *model.Entitlement) *entitlementDTO {
	if e == nil {
		return nil
	}
	dto := &entitlementDTO{
		ID:             e.ID,
		UserID:         e.UserID,
		Kind:           string(e.Kind),
		LevelCode:      e.LevelCode,
		LevelWeight:    e.LevelWeight,
		PointsAmount:   e.PointsAmount,
		Status:         string(e.Status),
		CycleDays:      e.CycleDays,
		IsCompensation: e.IsCompensation,
		Origin:         string(e.Origin),
		AutoRenew:      e.AutoRenew,
		QueuePos:       e.QueuePos,
		PrevID:         e.PrevID,
		NextID:         e.NextID,
		CancelReason:   e.CancelReason,
	}
	if !e.ExpiresAt.IsZero() {
		t := e.ExpiresAt
		dto.ExpiresAt = &t
	}
	return dto
}

func toDTOs(ents []*model.Entitlement) []*entitlementDTO {
	out := make([]*entitlementDTO, 0, len(ents))
	for _, e := range ents {
		out = append(out, toDTO(e))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses. Unclassified errors are
// never echoed to the caller.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, "Invalid request", http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotPending):
		http.Error(w, "Entitlement is not pending", http.StatusConflict)
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrLockNotAcquired):
		http.Error(w, "Conflict, retry later", http.StatusConflict)
	case errors.Is(err, domain.ErrContractNotSigned),
		errors.Is(err, domain.ErrAutoRenewDisabled),
		errors.Is(err, domain.ErrOutsideRenewalWindow):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		metrics.IncOpsRequest("subscribe", "error")
		return
	}

	ent, res, err := s.svc.Subscribe(r.Context(), usecase.SubscribeRequest{
		UserID:        req.UserID,
		ExternalRef:   req.ExternalRef,
		OriginOrderID: req.OriginOrderID,
		Kind:          model.EntitlementKind(req.Kind),
		LevelCode:     req.LevelCode,
		LevelWeight:   req.LevelWeight,
		PointsAmount:  req.PointsAmount,
		CycleDays:     req.CycleDays,
		ContractID:    req.ContractID,
	})
	if err != nil {
		s.log.Error().Err(err).Str("user_id", req.UserID).Msg("subscribe failed")
		writeError(w, err)
		metrics.IncOpsRequest("subscribe", "error")
		return
	}

	response := struct {
		Entitlement  *entitlementDTO `json:"entitlement"`
		Position     string          `json:"position,omitempty"`
		QueuePos     int             `json:"queue_pos,omitempty"`
		Compensation *entitlementDTO `json:"compensation,omitempty"`
	}{
		Entitlement: toDTO(ent),
	}
	if res != nil {
		response.Position = string(res.PositionType)
		response.QueuePos = res.Position
		response.Compensation = toDTO(res.Compensation)
		if len(res.Paused) > 0 {
			metrics.IncEntitlementsPreempted()
		}
	}
	metrics.IncOpsRequest("subscribe", "ok")
	writeJSON(w, http.StatusCreated, response)
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "contractID")

	res, err := s.svc.ProcessAutoRenewal(r.Context(), contractID)
	if err != nil {
		writeError(w, err)
		metrics.IncOpsRequest("renew", "error")
		return
	}

	response := struct {
		Renewed bool            `json:"renewed"`
		Action  string          `json:"action,omitempty"`
		Next    *entitlementDTO `json:"next,omitempty"`
	}{
		Renewed: res.Renewed,
		Next:    toDTO(res.Next),
	}
	if !res.Renewed {
		response.Action = res.Action.String()
		if res.Action == usecase.ActionStop && res.Attempt != nil {
			metrics.IncRenewalStopped(res.Attempt.FailCode)
		}
	}
	metrics.IncOpsRequest("renew", "ok")
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	chain, err := s.svc.GetChain(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		metrics.IncOpsRequest("chain_get", "error")
		return
	}

	response := struct {
		Active  *entitlementDTO   `json:"active"`
		Pending []*entitlementDTO `json:"pending"`
		Paused  []*entitlementDTO `json:"paused"`
	}{
		Active:  toDTO(chain.Active),
		Pending: toDTOs(chain.Pending),
		Paused:  toDTOs(chain.Paused),
	}
	metrics.IncOpsRequest("chain_get", "ok")
	writeJSON(w, http.StatusOK, response)
}

type healthResponse struct {
	Healthy bool                  `json:"healthy"`
	Issues  []usecase.HealthIssue `json:"issues,omitempty"`
	Actions []string              `json:"repair_actions,omitempty"`
}

func (s *Server) handleChainHealth(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	report, _, err := s.svc.RunHealthCheck(r.Context(), userID, false)
	if err != nil {
		writeError(w, err)
		metrics.IncOpsRequest("chain_health", "error")
		return
	}
	for _, issue := range report.Issues {
		metrics.IncChainIssue(issue.Code)
	}
	metrics.IncOpsRequest("chain_health", "ok")
	writeJSON(w, http.StatusOK, healthResponse{Healthy: report.Healthy, Issues: report.Issues})
}

func (s *Server) handleChainRepair(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	report, result, err := s.svc.RunHealthCheck(r.Context(), userID, true)
	if err != nil {
		writeError(w, err)
		metrics.IncOpsRequest("chain_repair", "error")
		return
	}
	resp := healthResponse{Healthy: report.Healthy, Issues: report.Issues}
	if result != nil {
		resp.Actions = result.Actions
		if result.Fixed {
			metrics.IncChainRepaired()
		}
	}
	metrics.IncOpsRequest("chain_repair", "ok")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id := chi.URLParam(r, "id")

	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	if err := s.svc.CancelPending(r.Context(), userID, id, req.Reason); err != nil {
		writeError(w, err)
		metrics.IncOpsRequest("cancel", "error")
		return
	}
	metrics.IncOpsRequest("cancel", "ok")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id := chi.URLParam(r, "id")

	expired, err := s.svc.ExpireEntitlement(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		metrics.IncOpsRequest("expire", "error")
		return
	}
	metrics.IncOpsRequest("expire", "ok")
	writeJSON(w, http.StatusOK, struct {
		Expired bool `json:"expired"`
	}{Expired: expired})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	byStatus, err := s.svc.CountByStatus(ctx)
	if err != nil {
		writeError(w, err)
		metrics.IncOpsRequest("stats", "error")
		return
	}
	byLevel, err := s.svc.CountActiveByLevel(ctx)
	if err != nil {
		writeError(w, err)
		metrics.IncOpsRequest("stats", "error")
		return
	}
	points, err := s.svc.TotalPointsOutstanding(ctx)
	if err != nil {
		writeError(w, err)
		metrics.IncOpsRequest("stats", "error")
		return
	}

	response := struct {
		ByStatus      map[model.EntitlementStatus]int `json:"entitlements_by_status"`
		ActiveByLevel map[string]int                  `json:"active_by_level"`
		TotalPoints   int64                           `json:"total_points_outstanding"`
	}{
		ByStatus:      byStatus,
		ActiveByLevel: byLevel,
		TotalPoints:   points,
	}
	metrics.IncOpsRequest("stats", "ok")
	writeJSON(w, http.StatusOK, response)
}
