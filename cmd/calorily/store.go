package main

import (
	"github.com/sakif/calorily/internal/analysis"
	"github.com/sakif/calorily/internal/auth"
	"github.com/sakif/calorily/internal/eventbus"
	"github.com/sakif/calorily/internal/overlay"
	"github.com/sakif/calorily/internal/repository/sqlite"
	"github.com/sakif/calorily/internal/service"
	"github.com/sakif/calorily/internal/views"
)

// local is the in-process stack a one-shot command works against. A
// running server on the same database is fine: SQLite serializes writers,
// but the server won't hear about these changes until its next query.
type local struct {
	db    *sqlite.DB
	meals *service.MealService
	views *views.Views
}

func (a *app) openLocal() (*local, error) {
	bus := eventbus.New(a.logger)
	db, err := sqlite.New(sqlite.Config{
		Path:     a.cfg.DBPath,
		ImageDir: a.cfg.ImageDir,
	}, bus, a.logger)
	if err != nil {
		return nil, err
	}
	meals := service.NewMealService(service.Options{
		Repo:       db,
		Overlay:    overlay.New(bus),
		Bus:        bus,
		Submitter:  analysis.NewClient(a.cfg.Analysis.BaseURL, a.cfg.Analysis.Timeout, a.logger),
		Tokens:     auth.NewAnalysisTokenSource(a.cfg.Analysis.Token),
		RetryDelay: a.cfg.Sync.RetryDelay,
		Logger:     a.logger,
	})
	return &local{db: db, meals: meals, views: views.New(db)}, nil
}

func (l *local) Close() error {
	l.meals.Close()
	return l.db.Close()
}
