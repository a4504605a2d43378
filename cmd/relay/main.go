package main

import (
	"flag"
	"runtime/debug"
	"time"

	"delegate-relay-sol/internal/config"
	"delegate-relay-sol/internal/handler"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/service"
	"delegate-relay-sol/internal/svc"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
	"github.com/zeromicro/go-zero/rest"
)

var configFile = flag.String("f", "etc/relay.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	flag.Parse()

	var c config.RelayConfig
	conf.MustLoad(*configFile, &c)

	if err := logger.Init(c.Logger.ToLogOption()); err != nil {
		panic(err)
	}
	defer logger.Sync()

	serviceContext, err := svc.NewServiceContext(c)
	if err != nil {
		panic(err)
	}
	defer serviceContext.Close()

	server := rest.MustNewServer(c.RestConf)
	handler.RegisterHandlers(server, serviceContext.Settlement, c.Settlement.MaxBodyBytes)

	sg := zerosvc.NewServiceGroup()
	sg.Add(server)
	if c.MintPolicy.File != "" {
		sg.Add(service.NewPolicyReloadService(c.MintPolicy.File,
			time.Duration(c.MintPolicy.ReloadIntervalSec)*time.Second,
			serviceContext.Policy, serviceContext.MintCache))
	}

	defer sg.Stop()

	logx.Infof("Starting settlement relay at %s:%d", c.Host, c.Port)

	// 阻塞直到收到退出信号（由 go-zero proc 监听 SIGTERM 后触发 Stop）
	sg.Start()
	logx.Info("Settlement relay stopped")
}
