package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VahidMostofi/flowlab/internal/labels"
)

// Plan describes the captures of a tool.
type Plan struct {
	Tool       string
	App        string
	OS         string
	Hypervisor string
	Folder     string
	URLs       []string
	// Variants records one capture per tool mode, named <app>-<variant>.
	Variants []string
	// Warmup waits for the delay between starting the recorder and the first URL.
	Warmup bool
}

// Session drives a generator while a recorder captures its traffic.
type Session struct {
	Recorder  Recorder
	Generator Generator
	// Delay separates the recorder start and stop from the traffic.
	Delay  time.Duration
	Logger *zap.Logger
}

// Run records one capture per variant, or a single one when the plan has none. A URL the
// generator fails on is logged and recorded in the manifest.
func (s *Session) Run(ctx context.Context, plan Plan) ([]*Manifest, error) {
	if len(plan.URLs) == 0 {
		return nil, errors.New("no URLs to visit")
	}
	if err := os.MkdirAll(plan.Folder, 0755); err != nil {
		return nil, errors.Wrap(err, "create capture folder")
	}

	variants := plan.Variants
	if len(variants) == 0 {
		variants = []string{""}
	}
	var manifests []*Manifest
	for i, variant := range variants {
		if i > 0 {
			if err := sleep(ctx, s.Delay); err != nil {
				return manifests, err
			}
		}
		m, err := s.record(ctx, plan, variant)
		if err != nil {
			return manifests, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

func (s *Session) record(ctx context.Context, plan Plan, variant string) (*Manifest, error) {
	log := s.logger()
	app := plan.App
	if variant != "" {
		app += "-" + variant
		log.Info(fmt.Sprintf("Mode %s", variant))
	}
	m := &Manifest{
		ID:         uuid.NewString(),
		Tool:       plan.Tool,
		App:        app,
		OS:         plan.OS,
		Hypervisor: plan.Hypervisor,
		Variant:    variant,
		Pcap:       filepath.Join(plan.Folder, labels.FileName(app, plan.OS, plan.Hypervisor)),
		URLs:       plan.URLs,
		Start:      time.Now(),
	}
	log.Info(fmt.Sprintf("%d URLs", len(plan.URLs)), zap.String("pcap", m.Pcap))

	if err := s.Recorder.Start(ctx, m.Pcap); err != nil {
		return nil, err
	}
	err := s.visit(ctx, plan, variant, m)
	if err == nil {
		err = sleep(ctx, s.Delay)
	}
	// the recorder is stopped even when the session was cancelled
	stopCtx, cancel := context.WithTimeout(context.Background(), DefaultGrace+s.Delay)
	defer cancel()
	if stopErr := s.Recorder.Stop(stopCtx); stopErr != nil {
		if err == nil {
			return nil, stopErr
		}
		log.Warn("failed to stop recorder", zap.Error(stopErr))
	}
	if err != nil {
		return nil, err
	}

	m.End = time.Now()
	if err := m.Save(); err != nil {
		return nil, err
	}
	log.Info("capture done", zap.String("pcap", m.Pcap), zap.Int("failures", len(m.Failures)))
	return m, nil
}

func (s *Session) visit(ctx context.Context, plan Plan, variant string, m *Manifest) error {
	log := s.logger()
	if plan.Warmup {
		if err := sleep(ctx, s.Delay); err != nil {
			return err
		}
	}
	for i, u := range plan.URLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Info(fmt.Sprintf("%d) %s", i+1, u))
		if err := s.Generator.Visit(ctx, Target{URL: u, Variant: variant}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("visit failed", zap.String("url", u), zap.Error(err))
			m.Failures = append(m.Failures, Failure{URL: u, Error: err.Error()})
		}
	}
	return nil
}

func (s *Session) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger.With(zap.String("tool", s.Generator.Name()))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
