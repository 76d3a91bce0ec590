// Package session runs one content build from settings to an analyzed layout.
//
// A Session resolves the build plan for its strategy, asks the backend to
// write the bundles, derives the bundle dependency graph from the write
// results, assembles the layout and runs the efficiency and duplication
// passes. Every Run owns its graph and scratch state; the only thing carried
// between runs is the path→type cache, which is dropped whenever the settings
// version changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bundlegraph/analyze"
	"bundlegraph/depgraph"
	"bundlegraph/entry"
	"bundlegraph/ident"
	"bundlegraph/layout"
	"bundlegraph/plan"
	"bundlegraph/writedata"
)

// ErrBuildFailed is returned when the backend reports a failing return code.
var ErrBuildFailed = errors.New("build failed")

// ReturnCode is the backend's verdict on a build.
type ReturnCode int

const (
	Success                ReturnCode = 0
	SuccessCached          ReturnCode = 1
	SuccessNotRun          ReturnCode = 2
	Error                  ReturnCode = -1
	Exception              ReturnCode = -2
	Canceled               ReturnCode = -3
	UnsavedChanges         ReturnCode = -4
	MissingRequiredObjects ReturnCode = -5
)

func (c ReturnCode) String() string {
	switch c {
	case Success:
		return "Success"
	case SuccessCached:
		return "SuccessCached"
	case SuccessNotRun:
		return "SuccessNotRun"
	case Error:
		return "Error"
	case Exception:
		return "Exception"
	case Canceled:
		return "Canceled"
	case UnsavedChanges:
		return "UnsavedChanges"
	case MissingRequiredObjects:
		return "MissingRequiredObjects"
	default:
		return fmt.Sprintf("ReturnCode(%d)", int(c))
	}
}

// Succeeded reports whether the build produced usable output.
func (c ReturnCode) Succeeded() bool {
	return c >= Success
}

// Status is the outcome of a Run.
type Status int

const (
	StatusSuccess Status = iota
	StatusNothingToDo
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNothingToDo:
		return "nothing to do"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Backend writes the bundles of a plan.
type Backend interface {
	Build(ctx context.Context, p *plan.BuildPlan) (*writedata.WriteResults, ReturnCode, error)
}

// AssetDatabase answers asset dependency, path and type queries.
type AssetDatabase interface {
	depgraph.DependencyResolver
	layout.AssetDatabase
}

// History stores analyzed layouts by settings version.
type History interface {
	Save(l *layout.Layout) (string, error)
	// LoadLatest returns the newest layout built from settings version, or
	// false when there is none.
	LoadLatest(settingsVersion int) (*layout.Layout, bool, error)
}

// Result describes one Run.
type Result struct {
	SessionID  uuid.UUID
	Status     Status
	ReturnCode ReturnCode
	Plan       *plan.BuildPlan
	Graph      *depgraph.Graph
	Layout     *layout.Layout
	// BuildID is the history id of the saved layout, if it was saved.
	BuildID string
}

// Session holds the collaborators and switches for builds of one settings
// object.
type Session struct {
	ID            uuid.UUID
	Settings      *entry.Settings
	Strategy      plan.Strategy
	Backend       Backend
	AssetDatabase AssetDatabase
	Prober        layout.SizeProber
	History       History
	Logger        logrus.FieldLogger
	Incremental   bool
	TypeCacheSize int

	mu    sync.Mutex
	types *layout.TypeCache
	now   func() time.Time
}

// New returns a packed-mode session for settings.
func New(settings *entry.Settings, backend Backend) *Session {
	return &Session{
		ID:       uuid.New(),
		Settings: settings,
		Strategy: plan.PackedMode,
		Backend:  backend,
	}
}

func (s *Session) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

func (s *Session) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Session) typeCache() (*layout.TypeCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.types == nil {
		tc, err := layout.NewTypeCache(s.TypeCacheSize)
		if err != nil {
			return nil, err
		}
		s.types = tc
	}
	s.types.Stamp(s.Settings.Version)
	return s.types, nil
}

// Run performs one build for target.
func (s *Session) Run(ctx context.Context, target string) (*Result, error) {
	if s.Settings == nil {
		return nil, errors.New("session has no settings")
	}
	log := s.logger().WithFields(logrus.Fields{
		"component": "session",
		"session":   s.ID.String(),
		"target":    target,
		"strategy":  s.Strategy.String(),
	})

	start := s.clock()
	header := layout.Header{
		BuildTarget:     target,
		BuildStartTime:  start,
		SettingsVersion: s.Settings.Version,
		Strategy:        s.Strategy.String(),
	}
	res := &Result{SessionID: s.ID}

	p, err := s.Strategy.Resolve(s.Settings, plan.Options{Incremental: s.Incremental})
	if err != nil {
		return s.fail(res, header, err)
	}
	res.Plan = p

	switch {
	case !p.RequiresBuild && !p.UseExistingBuild:
		log.Info("Nothing to build in fast mode")
		res.Status = StatusNothingToDo
		return res, nil
	case p.UseExistingBuild:
		return s.loadExisting(log, res, header)
	}

	if s.Backend == nil {
		return s.fail(res, header, errors.New("session has no build backend"))
	}
	if err := ctx.Err(); err != nil {
		res.ReturnCode = Canceled
		return s.fail(res, header, err)
	}

	log.WithField("bundles", len(p.Bundles)).Debug("Starting build")
	results, code, err := s.Backend.Build(ctx, p)
	res.ReturnCode = code
	if err != nil {
		return s.fail(res, header, fmt.Errorf("running backend: %w", err))
	}
	if !code.Succeeded() {
		return s.fail(res, header, fmt.Errorf("%w: %s", ErrBuildFailed, code))
	}
	if code == SuccessNotRun {
		log.Info("Backend reported nothing to build")
		res.Status = StatusNothingToDo
		return res, nil
	}
	if results == nil {
		return s.fail(res, header, errors.New("backend returned no write results"))
	}

	l, g, err := s.analyze(p, results, header, log)
	if err != nil {
		return s.fail(res, header, err)
	}
	l.Header.Duration = s.clock().Sub(start)
	res.Graph = g
	res.Layout = l
	res.Status = StatusSuccess

	if s.History != nil {
		id, err := s.History.Save(l)
		if err != nil {
			log.WithError(err).Warn("Failed to save build to history")
		} else {
			res.BuildID = id
		}
	}

	log.WithFields(logrus.Fields{
		"bundles":    len(l.Bundles),
		"duplicates": len(l.Duplicates),
		"duration":   l.Header.Duration,
	}).Info("Build complete")
	return res, nil
}

func (s *Session) analyze(p *plan.BuildPlan, results *writedata.WriteResults, header layout.Header, log logrus.FieldLogger) (*layout.Layout, *depgraph.Graph, error) {
	if err := results.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validating write results: %w", err)
	}
	reg := p.Registry
	if reg == nil {
		reg = ident.NewRegistry()
	}
	assetBundles, err := results.AssetBundles(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("mapping assets to bundles: %w", err)
	}

	var groups []*entry.AssetGroup
	for _, g := range s.Settings.Groups() {
		if g.IncludeInBuild {
			groups = append(groups, g)
		}
	}

	in := depgraph.Input{AssetBundles: assetBundles, Groups: groups}
	ain := layout.AssembleInput{
		Header:   header,
		Results:  results,
		Registry: reg,
		Settings: s.Settings,
		Prober:   s.Prober,
		Logger:   log,
	}
	if s.AssetDatabase != nil {
		in.Resolver = s.AssetDatabase
		ain.Assets = s.AssetDatabase
	}

	g, err := depgraph.Build(in)
	if err != nil {
		return nil, nil, fmt.Errorf("building dependency graph: %w", err)
	}
	ain.Graph = g

	tc, err := s.typeCache()
	if err != nil {
		return nil, nil, err
	}
	ain.Types = tc

	l, err := layout.Assemble(ain)
	if err != nil {
		return nil, nil, fmt.Errorf("assembling layout: %w", err)
	}
	analyze.ComputeEfficiency(l)
	analyze.FindDuplicates(l)
	return l, g, nil
}

func (s *Session) loadExisting(log logrus.FieldLogger, res *Result, header layout.Header) (*Result, error) {
	if s.History == nil {
		log.Warn("No build history configured; nothing to load")
		res.Status = StatusNothingToDo
		return res, nil
	}
	l, ok, err := s.History.LoadLatest(s.Settings.Version)
	if err != nil {
		return s.fail(res, header, fmt.Errorf("loading previous build: %w", err))
	}
	if !ok {
		log.WithField("version", s.Settings.Version).Warn("No previous build for this settings version")
		res.Status = StatusNothingToDo
		return res, nil
	}
	res.Layout = l
	res.Status = StatusSuccess
	return res, nil
}

func (s *Session) fail(res *Result, header layout.Header, err error) (*Result, error) {
	header.BuildError = err.Error()
	header.Duration = s.clock().Sub(header.BuildStartTime)
	res.Status = StatusError
	res.Layout = &layout.Layout{Header: header}
	s.logger().WithFields(logrus.Fields{
		"component": "session",
		"session":   s.ID.String(),
	}).WithError(err).Error("Build failed")
	return res, err
}
