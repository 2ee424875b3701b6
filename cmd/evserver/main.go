// Command evserver runs the event-driven HTTP/1.1 server. It takes no
// flags: it reads server.conf from the current directory, per
// spec.md §6's CLI contract.
package main

import (
	"github.com/sirupsen/logrus"

	"github.com/badu/evserver/internal/config"
	"github.com/badu/evserver/server"
)

const configFileName = "server.conf"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configFileName)
	if err != nil {
		log.WithError(err).Fatal("evserver: failed to load server.conf")
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("evserver: failed to initialize server")
	}

	if err := srv.Run(); err != nil {
		log.WithError(err).Fatal("evserver: event loop exited")
	}
}
