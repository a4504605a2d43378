package handler

import (
	"context"
	"fmt"
	"net/http"

	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/service"

	"github.com/zeromicro/go-zero/core/jsonx"
	"github.com/zeromicro/go-zero/rest/httpx"
)

// Settler 结算服务
type Settler interface {
	Settle(ctx context.Context, req service.SingleRequest) *service.Response
	SettleBatch(ctx context.Context, req service.BatchRequest) *service.Response
}

func SettleHandler(s Settler, maxBody int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SingleRequest
		if !decode(w, r, maxBody, &req) {
			return
		}
		resp := s.Settle(r.Context(), req)
		httpx.WriteJsonCtx(r.Context(), w, statusOf(resp), resp)
	}
}

func SettleBatchHandler(s Settler, maxBody int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.BatchRequest
		if !decode(w, r, maxBody, &req) {
			return
		}
		resp := s.SettleBatch(r.Context(), req)
		httpx.WriteJsonCtx(r.Context(), w, statusOf(resp), resp)
	}
}

func decode(w http.ResponseWriter, r *http.Request, maxBody int64, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBody)
	if err := jsonx.UnmarshalFromReader(body, v); err != nil {
		httpx.WriteJsonCtx(r.Context(), w, http.StatusBadRequest, &service.Response{
			ErrorKind:    core.KindOf(core.ErrInvalidInput),
			ErrorMessage: fmt.Errorf("%w: malformed request body: %v", core.ErrInvalidInput, err).Error(),
		})
		return false
	}
	return true
}

// statusOf 按错误分类映射 HTTP 状态码
func statusOf(resp *service.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.ErrorKind {
	case service.KindRequestInFlight, service.KindAccountBusy:
		return http.StatusConflict
	case core.KindOf(core.ErrSubmissionFailed):
		return http.StatusBadGateway
	}
	if core.IsValidationKind(resp.ErrorKind) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
