package main

import (
	"log"
	"net/url"
)

func selectRepository(dbURL string) SessionRepository {
	if dbURL == "" {
		log.Println("DB_URL not set, sessions will not survive a restart")
		return NoopRepository{}
	}

	u, err := url.Parse(dbURL)
	if err != nil {
		log.Fatalln("invalid DB_URL:", err)
	}

	var repo SessionRepository
	switch u.Scheme {
	case "postgres", "postgresql":
		repo, err = NewPostgresRepository(dbURL)
	case "sqlite", "sqlite3":
		repo, err = NewSQLiteRepository(u.Host + u.Path)
	case "redis", "rediss":
		repo, err = NewRedisRepository(dbURL)
	default:
		log.Fatalln("unsupported DB_URL scheme:", u.Scheme)
	}
	if err != nil {
		log.Fatalln("failed to set up repository:", err)
	}
	return repo
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalln("bad configuration:", err)
	}

	repo := selectRepository(cfg.DBURL)
	defer repo.close()

	catalog := NewCatalogClient(cfg.CatalogURL, cfg.CatalogToken)
	if cfg.CatalogURL == "" {
		log.Println("CATALOG_URL not set, songs must arrive with inline metadata")
	}

	proc := NewCommandProcessor(cfg, catalog)
	registry := NewSessionRegistry(proc, repo, cfg)
	defer registry.Shutdown()

	hub := NewHub(registry, cfg)
	router := NewHTTPRouter(registry, catalog, hub)

	log.Println("listening on", cfg.Addr)
	if err := router.Start(cfg.Addr); err != nil {
		log.Fatalln("server stopped:", err)
	}
}
