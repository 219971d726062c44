package commands

import (
	"os"
	"time"

	"novelarc/lib/archive"
	"novelarc/lib/configutil"
	"novelarc/lib/fetch"
	"novelarc/lib/scrapers/novel"
	"novelarc/lib/util/serviceutil"

	"github.com/dgraph-io/badger/v4"
)

type Config struct {
	BaseURL string `json:"base_url"`
	// Archive is the path of the sqlite archive database.
	Archive string `json:"archive"`
	// PageCache is the path of the badger page cache used during chain
	// resolution. Empty disables caching.
	PageCache         string `json:"page_cache"`
	RequestIntervalMs int    `json:"request_interval_ms"`
	MaxRetries        int    `json:"max_retries"`
	MaxChainWalk      int    `json:"max_chain_walk"`
	MaxSubPages       int    `json:"max_sub_pages"`
	LoadTimeoutMs     int    `json:"load_timeout_ms"`
	StabilizeMs       int    `json:"stabilize_timeout_ms"`
}

func readConfig() Config {
	// a missing config file just means defaults
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to read config", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.linovelib.com"
	}
	if cfg.Archive == "" {
		cfg.Archive = "archive.db"
	}
	if cfg.RequestIntervalMs <= 0 {
		cfg.RequestIntervalMs = 3000
	}
	return cfg
}

// env is everything a command needs: the shared gate, the fetch client
// and the archive. The gate paces all traffic in the process, fetches
// and rendering navigations alike.
type env struct {
	cfg     Config
	gate    *fetch.Gate
	client  *fetch.Client
	archive archive.Store
}

func setup() env {
	cfg := readConfig()

	gate := fetch.NewGate(time.Duration(cfg.RequestIntervalMs)*time.Millisecond, nil)
	client, err := fetch.NewClient(fetch.ClientOptions{
		BaseURL:    cfg.BaseURL,
		Gate:       gate,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize fetch client", err)
	}

	store, err := archive.Open(cfg.Archive)
	if err != nil {
		serviceutil.Fatal("failed to open archive", err)
	}

	return env{cfg: cfg, gate: gate, client: client, archive: store}
}

func (e env) openPageCache() *badger.DB {
	if e.cfg.PageCache == "" {
		return nil
	}
	db, err := badger.Open(badger.DefaultOptions(e.cfg.PageCache))
	if err != nil {
		serviceutil.Fatal("failed to open page cache", err)
	}
	return db
}

func (e env) newResolver(cache *badger.DB) *novel.Resolver {
	resolver, err := novel.NewResolver(novel.ResolverOptions{
		Client:       e.client,
		Cache:        cache,
		MaxChainWalk: e.cfg.MaxChainWalk,
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize resolver", err)
	}
	return resolver
}
