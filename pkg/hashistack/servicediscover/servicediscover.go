// Package servicediscover registers the HTTP API with the consul agent so
// gateways can find healthy instances.
package servicediscover

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"licensing-controlplane/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("servicediscover",
	fx.Provide(NewRegistry),
	fx.Invoke(register),
)

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

type ConsulRegistry struct {
	client  *api.Client
	service *api.AgentServiceRegistration
}

// Registration describes this instance. The readiness endpoint is the
// consul health check.
func Registration(cfg *config.Config) (*api.AgentServiceRegistration, error) {
	port, err := strconv.Atoi(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("http server addr %q is not a port: %w", cfg.Server.Addr, err)
	}

	host := cfg.Consul.ServiceHost
	if host == "" {
		if host, err = os.Hostname(); err != nil {
			return nil, err
		}
	}

	return &api.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%d", cfg.AppName, host, port),
		Name:    cfg.AppName,
		Address: host,
		Port:    port,
		Tags:    []string{cfg.AppEnv},
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/readyz", host, port),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}, nil
}

// NewRegistry returns nil when CONSUL_ADDR is empty.
func NewRegistry(cfg *config.Config) (ServiceRegistry, error) {
	if cfg.Consul.Addr == "" {
		return nil, nil
	}

	service, err := Registration(cfg)
	if err != nil {
		return nil, err
	}

	conf := api.DefaultConfig()
	conf.Address = cfg.Consul.Addr

	client, err := api.NewClient(conf)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{client: client, service: service}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.client.Agent().ServiceRegisterOpts(r.service, api.ServiceRegisterOpts{}.WithContext(ctx))
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	q := &api.QueryOptions{}
	return r.client.Agent().ServiceDeregisterOpts(r.service.ID, q.WithContext(ctx))
}

func register(lc fx.Lifecycle, registry ServiceRegistry) {
	if registry == nil {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Register(ctx); err != nil {
				zap.L().Error("failed to register service with consul", zap.Error(err))
				return err
			}
			zap.L().Info("registered service with consul")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := registry.Deregister(ctx); err != nil {
				zap.L().Warn("failed to deregister service from consul", zap.Error(err))
			}
			return nil
		},
	})
}
