package recman

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tuannm99/novastore/internal/config"
)

type options struct {
	cfg        config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer
}

type Option func(*options)

// WithConfig replaces the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer exports metrics on reg, regardless of metrics.enabled.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithoutTransactions opens the file in write-through mode.
func WithoutTransactions() Option {
	return func(o *options) { o.cfg.Storage.Transactions = false }
}
