package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf"
	"github.com/nats-io/nats.go"

	"github.com/OpenTransitTools/stochtransit/app/journeyquery-svc/journeyquery"
	"github.com/OpenTransitTools/stochtransit/business/data/persistence"
	"github.com/OpenTransitTools/stochtransit/business/data/stochastic"
	"github.com/OpenTransitTools/stochtransit/foundation/database"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "JOURNEYQUERY : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %+v", err)
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
		NATS struct {
			URL string `conf:"default:localhost"`
		}
		HTTPPort                 int     `conf:"default:3000"`
		ConnectionDelaySubject   string  `conf:"default:connection-delay-updates"`
		RelevantPairsSubject     string  `conf:"default:relevant-connection-pairs"`
		QueryEpsilonReachable    float64 `conf:"default:0.0"`
		RelevanceEpsilonFeasible float64 `conf:"default:0.001"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Serves stochastic journey queries over HTTP and revises them as realtime " +
		"connection delay updates arrive over NATS"
	const prefix = "JOURNEYQUERY"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
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

	store := stochastic.NewStore()
	store.Log = log
	rowCount, err := persistence.LoadDelayCorpus(db, store)
	if err != nil {
		return fmt.Errorf("loading delay corpus: %w", err)
	}
	log.Printf("main: loaded %d delay corpus rows", rowCount)

	latest, err := persistence.GetLatestCorpusVersion(db)
	if err != nil {
		return fmt.Errorf("loading latest corpus version: %w", err)
	}
	if latest == nil {
		return fmt.Errorf("no corpus version recorded; run corpus-loader first")
	}
	corpusVersion := latest.CorpusVersionID

	graph, err := persistence.LoadGraphCache(db, corpusVersion)
	if err != nil {
		return fmt.Errorf("loading graph cache: %w", err)
	}
	if graph == nil {
		return fmt.Errorf("no cached connection graph found for corpus version %d; run corpus-loader first", corpusVersion)
	}

	preprocessor := stochastic.NewPreprocessor(store, 0)
	preprocessor.Log = log
	preprocessor.EpsilonReachable = cfg.QueryEpsilonReachable
	preprocessor.Preprocess(graph)

	if err := persistence.SaveGraphCache(db, corpusVersion, graph); err != nil {
		log.Printf("main: warning: failed to refresh graph cache: %v", err)
	}

	engine := journeyquery.NewEngine(store, graph, preprocessor)

	log.Printf("main: Connecting to NATS\n")
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("unable to establish connection to nats server: %w", err)
	}
	defer func() {
		log.Printf("main: closing connection to NATS")
		natsConnection.Close()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	log.Printf("starting journeyquery service\n")
	return journeyquery.StartJourneyQueryService(log, engine, shutdown, natsConnection, journeyquery.Conf{
		HTTPPort:                 cfg.HTTPPort,
		ConnectionDelaySubject:   cfg.ConnectionDelaySubject,
		RelevantPairsSubject:     cfg.RelevantPairsSubject,
		QueryEpsilonReachable:    cfg.QueryEpsilonReachable,
		RelevanceEpsilonFeasible: cfg.RelevanceEpsilonFeasible,
	})
}
