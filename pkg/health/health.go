// Package health reports liveness and the readiness of the backing stores.
package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(New))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

func (h Health) Healthy() bool {
	return h.Status == StatusHealthy
}

type Checker struct {
	db      *gorm.DB
	redis   *redis.Client
	timeout time.Duration
}

type Params struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func New(p Params) *Checker {
	return &Checker{
		db:      p.DB,
		redis:   p.Redis,
		timeout: 2 * time.Second,
	}
}

func (c *Checker) Liveness() Health {
	return Health{Status: StatusHealthy, Message: "OK"}
}

// Readiness pings every configured dependency. One failure marks the whole
// service unhealthy.
func (c *Checker) Readiness(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	h := Health{Status: StatusHealthy, Message: "OK", Deps: make([]Dependency, 0, 2)}

	if c.db != nil {
		h.add(Dependency{Name: "database:" + c.db.Name()}, func() error {
			sqlDB, err := c.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	}

	if c.redis != nil {
		h.add(Dependency{Name: "redis"}, func() error {
			return c.redis.Ping(ctx).Err()
		})
	}

	return h
}

func (h *Health) add(dep Dependency, ping func() error) {
	dep.Status, dep.Message = StatusHealthy, "OK"
	if err := ping(); err != nil {
		dep.Status, dep.Message = StatusUnhealthy, err.Error()
		h.Status, h.Message = StatusUnhealthy, "dependency unavailable"
	}
	h.Deps = append(h.Deps, dep)
}
