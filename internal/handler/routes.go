package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"
)

const defaultMaxBody = 64 << 10

// RegisterHandlers 注册结算接口
func RegisterHandlers(server *rest.Server, s Settler, maxBody int64) {
	server.AddRoutes(Routes(s, maxBody))
}

func Routes(s Settler, maxBody int64) []rest.Route {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return []rest.Route{
		{
			Method:  http.MethodPost,
			Path:    "/v1/settlements",
			Handler: SettleHandler(s, maxBody),
		},
		{
			Method:  http.MethodPost,
			Path:    "/v1/settlements/batch",
			Handler: SettleBatchHandler(s, maxBody),
		},
	}
}
