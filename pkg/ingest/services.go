package ingest

import (
	"github.com/shishobooks/spines/pkg/catalog"
	"github.com/shishobooks/spines/pkg/config"
	"github.com/shishobooks/spines/pkg/extraction"
	"github.com/shishobooks/spines/pkg/fileutils"
	"github.com/shishobooks/spines/pkg/jobs"
	"github.com/shishobooks/spines/pkg/matcher"
	"github.com/shishobooks/spines/pkg/review"
	"github.com/shishobooks/spines/pkg/staging"
	"github.com/uptrace/bun"
)

// Services is the pipeline wired over one database. The server, the worker
// and the CLI each build one.
type Services struct {
	Staging      *staging.Service
	Catalog      *catalog.Service
	Matcher      *matcher.Matcher
	Review       *review.Service
	Jobs         *jobs.Service
	Extraction   *extraction.Service
	Orchestrator *Orchestrator
}

func MatcherPolicyFromConfig(cfg *config.Config) matcher.Policy {
	policy := matcher.DefaultPolicy()
	policy.Floor = cfg.MatchFloor
	policy.Actionable = cfg.MatchActionableThreshold
	return policy
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{AutoAccept: cfg.AutoAcceptThreshold}
}

func NewServices(cfg *config.Config, db *bun.DB) *Services {
	s := &Services{
		Staging:    staging.NewService(db, cfg.TempPath, cfg.HoldingPath),
		Catalog:    catalog.NewService(db),
		Jobs:       jobs.NewService(db),
		Extraction: extraction.NewServiceFromConfig(cfg),
	}
	s.Matcher = matcher.New(s.Catalog, MatcherPolicyFromConfig(cfg))

	placer := fileutils.NewOrganizer(cfg.BooksPath)
	s.Review = review.NewService(db, review.Dependencies{
		Stager:    s.Staging,
		Catalog:   s.Catalog,
		Matcher:   s.Matcher,
		Placer:    placer,
		Scheduler: s.Jobs,
	})
	s.Orchestrator = NewOrchestrator(Dependencies{
		Extractor: s.Extraction,
		Matcher:   s.Matcher,
		Catalog:   s.Catalog,
		Queue:     s.Review,
		Staging:   s.Staging,
		Placer:    placer,
	}, PolicyFromConfig(cfg))
	return s
}
