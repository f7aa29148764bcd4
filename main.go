package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/slidepick/slidepick/audit"
	"github.com/slidepick/slidepick/datastore"
	"github.com/slidepick/slidepick/downloader"
	"github.com/slidepick/slidepick/extractor"
	"github.com/slidepick/slidepick/rest"
)

var revision string

var opts struct {
	Address     string            `long:"address" env:"SLIDEPICK_ADDRESS" default:"" description:"listening address"`
	Port        int               `long:"port" env:"SLIDEPICK_PORT" default:"8080" description:"port"`
	Credentials map[string]string `long:"creds" env:"CREDS" description:"credentials for protected calls"`

	MongoURI   string        `short:"m" long:"mongo_uri" env:"MONGO_URI" description:"MongoDB connection string, empty runs without a rule store"`
	MongoDelay time.Duration `long:"mongo-delay" env:"MONGO_DELAY" default:"0" description:"mongo initial delay"`
	MongoDB    string        `long:"mongo-db" env:"MONGO_DB" default:"slidepick" description:"mongo database name"`

	Timeout     time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"page and image fetch timeout"`
	AuditFile   string        `long:"audit" env:"AUDIT_FILE" default:"slidepick-audit.log" description:"audit log location"`
	DownloadDir string        `long:"download-dir" env:"DOWNLOAD_DIR" default:"downloaded_images" description:"directory for downloaded images"`
	Workers     int           `long:"workers" env:"WORKERS" default:"4" description:"concurrent image downloads"`

	Locator struct {
		Tag   string `long:"tag" env:"TAG" default:"" description:"container tag name"`
		Kind  string `long:"kind" env:"KIND" default:"id" choice:"id" choice:"class" description:"container identifier kind"`
		Value string `long:"value" env:"VALUE" default:"Product-Slider" description:"container identifier value"`
	} `group:"locator" namespace:"locator" env-namespace:"LOCATOR"`

	Debug bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	setupLog(opts.Debug)

	log.Printf("[INFO] started slidepick service %s", revision)

	auditLog, err := audit.NewLog(opts.AuditFile)
	if err != nil {
		log.Fatalf("[ERROR] can't open audit log: %v", err)
	}
	defer func() {
		if e := auditLog.Close(); e != nil {
			log.Printf("[WARN] failed to close audit log, %v", e)
		}
	}()

	gallery := &extractor.Gallery{
		TimeOut:        opts.Timeout,
		DefaultLocator: extractor.Locator{Tag: opts.Locator.Tag, Kind: opts.Locator.Kind, Value: opts.Locator.Value},
		Audit:          auditLog,
	}
	srv := rest.Server{
		Gallery:     gallery,
		Downloader:  &downloader.Downloader{TimeOut: opts.Timeout, Workers: opts.Workers, Audit: auditLog},
		DownloadDir: opts.DownloadDir,
		Credentials: opts.Credentials,
		Version:     revision,
	}

	if opts.MongoURI != "" {
		db, err := datastore.New(opts.MongoURI, opts.MongoDB, opts.MongoDelay)
		if err != nil {
			log.Fatalf("[ERROR] can't connect to mongo %v", err)
		}
		rules := db.GetStores()
		gallery.Rules = rules
		srv.Rules = &rules
	} else {
		log.Printf("[WARN] mongo is not configured, rule store disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { // catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	srv.Run(ctx, opts.Address, opts.Port)
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.CallerFile, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}
