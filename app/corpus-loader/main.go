package main

import (
	"fmt"
	logger "log"
	"os"

	"github.com/ardanlabs/conf"

	"github.com/OpenTransitTools/stochtransit/app/corpus-loader/corpusloader"
	"github.com/OpenTransitTools/stochtransit/foundation/database"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "CORPUS_LOADER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		Corpus struct {
			File string `conf:"default:delay_corpus.csv"`
			URL  string `conf:"default:"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Load a delay bucket corpus and build the preprocessed connection graph cache"
	if err := conf.Parse(os.Args[1:], "CORPUS_LOADER", &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage("CORPUS_LOADER", &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString("CORPUS_LOADER", &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	log.Println("main: Initializing database support")
	db, err := database.Open(database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		if err := db.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	switch cfg.Args.Num(0) {
	case "load":
		if cfg.Corpus.URL != "" {
			if err := corpusloader.FetchCorpusFile(log, cfg.Corpus.URL, cfg.Corpus.File); err != nil {
				return fmt.Errorf("fetching corpus file from %s: %w", cfg.Corpus.URL, err)
			}
		}
		if _, err := corpusloader.LoadCorpusFile(log, db, cfg.Corpus.File); err != nil {
			return fmt.Errorf("loading corpus file %s: %w", cfg.Corpus.File, err)
		}
		corpusVersion, err := corpusloader.BuildAndCacheGraph(log, db)
		if err != nil {
			return fmt.Errorf("building connection graph cache: %w", err)
		}
		log.Printf("main: corpus version %d ready to serve", corpusVersion)
		return nil

	case "rebuild":
		corpusVersion, err := corpusloader.BuildAndCacheGraph(log, db)
		if err != nil {
			return fmt.Errorf("rebuilding connection graph cache: %w", err)
		}
		log.Printf("main: corpus version %d ready to serve", corpusVersion)
		return nil

	default:
		return fmt.Errorf("expected 'load' or 'rebuild' command")
	}
}
