// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Command server runs the schema driven backend as an HTTP service.
//
// Entity configurations are loaded from a directory, the SQL registry table
// and an S3 bucket, whichever is configured. Without a Postgres connection
// all records are kept in memory.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/schemabase/core/access"
	"github.com/relabs-tech/schemabase/core/backend"
	"github.com/relabs-tech/schemabase/core/csql"
	"github.com/relabs-tech/schemabase/core/logger"
	"github.com/relabs-tech/schemabase/core/notifier"
	"github.com/relabs-tech/schemabase/core/registry"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Port           int    `env:"PORT,default=3000"`
	Postgres       string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB"`
	PostgresSchema string `env:"POSTGRES_SCHEMA,default=schemabase"`
	ConfigDir      string `env:"CONFIG_DIR,optional" description:"directory with entity configurations"`
	SQLRegistry    bool   `env:"CONFIG_SQL_REGISTRY,default=false" description:"load entity configurations from the registry table"`
	JwtSecret      string `env:"JWT_SECRET,optional"`
	JwtIssuer      string `env:"JWT_ISSUER,optional"`
	IdentityEntity string `env:"IDENTITY_ENTITY,default=users"`
	AdminAccounts  string `env:"ADMIN_ACCOUNTS,optional" description:"comma separated identities of admin accounts to create"`
	Backdoors      string `env:"BACKDOORS,optional" description:"token=identity pairs separated by semicolons, for development only"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
	CORS           bool   `env:"CORS,default=false"`
	Compression    bool   `env:"COMPRESSION,default=true"`

	S3    registry.S3Configuration
	Kafka notifier.KafkaConfiguration
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)
	rlog := logger.Default()
	ctx := context.Background()

	router := mux.NewRouter()
	logger.AddRequestID(router)
	if len(service.JwtSecret) > 0 {
		router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
			Secret: []byte(service.JwtSecret),
			Issuer: service.JwtIssuer,
		}))
	} else {
		rlog.Warnln("JWT_SECRET is not set, all requests are anonymous")
	}
	if backdoors := access.ParseBackdoors(service.Backdoors); len(backdoors) > 0 {
		rlog.Warnf("%d backdoors are open", len(backdoors))
		router.Use(access.NewBackdoorMiddleware(&access.BackdoorMiddlewareBuilder{Backdoors: backdoors}))
	}

	builder := &backend.Builder{
		Router:         router,
		IdentityEntity: service.IdentityEntity,
		CORS:           service.CORS,
		Compression:    service.Compression,
	}

	if len(service.Postgres) > 0 {
		db := csql.OpenWithSchema(service.Postgres, service.PostgresSchema)
		defer db.Close()
		builder.Store = backend.PostgresStore(db)
		if service.SQLRegistry {
			table, err := registry.NewTable(db)
			if err != nil {
				panic(err)
			}
			builder.Sources = append(builder.Sources, registry.SQLSource{Table: table})
		}
	} else {
		rlog.Warnln("POSTGRES is not set, records are kept in memory")
	}
	if len(service.ConfigDir) > 0 {
		builder.Sources = append(builder.Sources, registry.DirSource{Dir: service.ConfigDir})
	}
	if len(service.S3.AWSBucketName) > 0 {
		source, err := registry.NewS3Source(ctx, service.S3)
		if err != nil {
			panic(err)
		}
		builder.Sources = append(builder.Sources, source)
	}
	if len(service.Kafka.Brokers) > 0 {
		kafka, err := notifier.NewKafka(service.Kafka)
		if err != nil {
			panic(err)
		}
		defer kafka.Close()
		builder.Notifier = kafka
	}

	b := backend.New(builder)
	rlog.Infof("serving %d entities", len(b.Registry().Entries()))
	var accounts []backend.Account
	for _, id := range strings.Split(service.AdminAccounts, ",") {
		if id = strings.TrimSpace(id); len(id) > 0 {
			accounts = append(accounts, backend.Account{ID: id, Admin: true})
		}
	}
	if len(accounts) > 0 {
		if err := b.EnsureAccounts(ctx, accounts...); err != nil {
			panic(err)
		}
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(service.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		rlog.Infoln("listen on port", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rlog.WithError(err).Fatalln("Error 4900: server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	rlog.Infoln("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rlog.WithError(err).Errorln("Error 4901: shutdown")
	}
}
