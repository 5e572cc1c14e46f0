package exposure

import (
	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
)

// EngineConfig holds the dependencies for NewFromEngine.
type EngineConfig struct {
	Engine    airquality.EngineConfig
	Store     Store
	Snapshots SnapshotSource
	Metrics   *Metrics
	Logger    zerolog.Logger
}

// NewFromEngine builds the resolver, estimator and classifier from a
// validated engine configuration and wires them into a Service.
func NewFromEngine(cfg EngineConfig) (*Service, error) {
	resolver, err := airquality.NewResolver(cfg.Engine.Resolver)
	if err != nil {
		return nil, err
	}
	estimator, err := airquality.NewEstimator(cfg.Engine.Estimator)
	if err != nil {
		return nil, err
	}
	classifier, err := airquality.NewClassifier(cfg.Engine.Thresholds)
	if err != nil {
		return nil, err
	}

	return NewService(Config{
		Store:      cfg.Store,
		Snapshots:  cfg.Snapshots,
		Resolver:   resolver,
		Estimator:  estimator,
		Classifier: classifier,
		Metrics:    cfg.Metrics,
		Logger:     cfg.Logger,
	})
}
