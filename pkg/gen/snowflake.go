// Package gen provides the snowflake node used for every entity id.
package gen

import (
	"licensing-controlplane/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake", fx.Provide(NewSnowflakeNode))

// NewSnowflakeNode uses SNOWFLAKE_NODE. Every running process needs its own
// node id or generated ids may collide.
func NewSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Int64("node", cfg.SnowflakeNode), zap.Error(err))
		return nil, err
	}
	return node, nil
}
