package vision

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/your-org/faceattr/internal/config"
)

// LoadModels builds the three domain classifiers described by cfg. The
// returned release func closes every backend and, for the onnx backend,
// tears down the runtime environment.
func LoadModels(cfg config.VisionConfig) (Models, func(), error) {
	switch cfg.Backend {
	case config.BackendFixture:
		return loadFixtureModels(cfg)
	case config.BackendONNX, "":
		return loadONNXModels(cfg)
	default:
		return Models{}, nil, fmt.Errorf("unknown vision backend %q", cfg.Backend)
	}
}

func modelConfig(cfg config.VisionConfig, d Domain) config.ModelConfig {
	switch d {
	case DomainAge:
		return cfg.Age
	case DomainGender:
		return cfg.Gender
	default:
		return cfg.Expression
	}
}

func (m *Models) set(d Domain, c Classifier) {
	switch d {
	case DomainAge:
		m.Age = c
	case DomainGender:
		m.Gender = c
	case DomainExpression:
		m.Expression = c
	}
}

func loadFixtureModels(cfg config.VisionConfig) (Models, func(), error) {
	var m Models
	for _, d := range Domains {
		probs := modelConfig(cfg, d).Fixture
		if len(probs) == 0 {
			var err error
			if probs, err = DefaultFixture(d); err != nil {
				return Models{}, nil, err
			}
		}
		if len(probs) != d.Classes() {
			return Models{}, nil, fmt.Errorf("%s fixture has %d values, want %d", d, len(probs), d.Classes())
		}
		m.set(d, NewAdapter(d, NewFixtureBackend(probs)))
	}
	slog.Info("fixture classifiers loaded")
	return m, func() {}, nil
}

func loadONNXModels(cfg config.VisionConfig) (Models, func(), error) {
	destroy, err := InitONNX(cfg.ONNXLibPath)
	if err != nil {
		return Models{}, nil, err
	}

	var (
		m        Models
		adapters []*Adapter
	)
	release := func() {
		for _, a := range adapters {
			if err := a.Close(); err != nil {
				slog.Warn("close classifier", "domain", a.Domain(), "error", err)
			}
		}
		destroy()
	}

	for _, d := range Domains {
		mc := modelConfig(cfg, d)
		path := mc.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.ModelsDir, path)
		}
		backend, err := NewONNXBackend(path, d, ONNXOptions{
			InputName:      mc.InputName,
			OutputName:     mc.OutputName,
			IntraOpThreads: cfg.IntraOpThreads,
		})
		if err != nil {
			release()
			return Models{}, nil, errors.Join(fmt.Errorf("load %s model: %w", d, ErrModelNotLoaded), err)
		}
		a := NewAdapter(d, backend)
		adapters = append(adapters, a)
		m.set(d, a)
		slog.Info("classifier loaded", "domain", d, "path", path, "input", d.InputShape().String())
	}
	return m, release, nil
}
