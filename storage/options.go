package storage

import "go.uber.org/zap"

type openOptions struct {
	log *zap.Logger
}

// Option is a generic option function.
type Option func(any)

// WithLogger supplies the logger used by the storage layers. The default is
// zap.NewNop().
func WithLogger(log *zap.Logger) Option {
	return func(o any) {
		if oo, ok := o.(*openOptions); ok {
			oo.log = log
		}
	}
}
