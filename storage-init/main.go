package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"taskboard/config"
	"taskboard/domain"
	"taskboard/storage"
)

// projectStore is the subset of a backend needed to seed a project.
type projectStore interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	CreateProject(ctx context.Context, p domain.Project) error
}

func main() {
	cfg, err := config.Read()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.WithField("backend", cfg.StorageBackend).Info("storage init starting")

	ctx := context.Background()
	var store projectStore

	switch cfg.StorageBackend {
	case config.BackendTables:
		if cfg.StorageConnectionString == "" {
			log.Fatal("missing STORAGE_CONNECTION_STRING")
		}
		if err := createTables(ctx, cfg.StorageConnectionString, []string{cfg.TasksTable, cfg.ProjectsTable}); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		tables, err := storage.NewTables(cfg.StorageConnectionString, cfg.TasksTable, cfg.ProjectsTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = tables
	case config.BackendSQLite:
		// opening applies the migrations
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("migrate %s: %v", cfg.SQLitePath, err)
		}
		defer db.Close()
		store = db
	default:
		log.Fatalf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	if cfg.EventsQueue != "" {
		if err := createQueues(ctx, cfg.StorageConnectionString, []string{cfg.EventsQueue}); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	if cfg.SeedProjectID != "" {
		if err := seedProject(ctx, store, cfg); err != nil {
			log.Fatalf("seed project: %v", err)
		}
	}

	log.Info("storage init complete")
}

// seedProject creates the configured project with the default columns unless
// it already exists.
func seedProject(ctx context.Context, store projectStore, cfg config.Config) error {
	existing, err := store.GetProject(ctx, cfg.SeedProjectID)
	if err != nil {
		return err
	}
	if existing != nil {
		log.WithField("project", cfg.SeedProjectID).Info("seed project already exists")
		return nil
	}
	name := cfg.SeedProjectName
	if name == "" {
		name = cfg.SeedProjectID
	}
	p := domain.Project{ID: cfg.SeedProjectID, Name: name, CreatedBy: cfg.SeedOwner, Columns: domain.DefaultColumns()}
	if cfg.SeedOwner != "" {
		p.Members = []domain.Member{{UserID: cfg.SeedOwner, Role: "owner"}}
	}
	if err := store.CreateProject(ctx, p); err != nil {
		return err
	}
	log.WithField("project", p.ID).Info("seed project created")
	return nil
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
	}
	return nil
}
