// Command runison-server runs the discovery endpoint: it indexes a
// configured tree and answers participants' registration, changeset,
// and transfer requests.
package main

import (
	"context"
	"flag"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bketelsen/runison/internal/config"
	"github.com/bketelsen/runison/server"
)

type maincmd struct {
	configPath string
	debug      bool
	verbosity  int
}

func main() {
	var c maincmd

	flag.StringVar(&c.configPath, "c", "runison.toml", "path to config file")
	flag.BoolVar(&c.debug, "d", false, "enable debug logging")
	flag.Func("v", "increase verbosity (repeatable)", func(string) error {
		c.verbosity++
		return nil
	})
	flag.Parse()

	if c.debug || c.verbosity > 0 {
		log.SetLevel(log.DebugLevel)
	}

	ctx := context.Background()
	if err := subcmd.Run(ctx, c, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"server": c.serve,
	}
}

func (c maincmd) serve(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		listen = fs.String("l", "tcp", "listen network (tcp, tcp4, tcp6)")
		port   = fs.String("p", ":7777", "listen address (host:port)")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, *listen, *port)
	if err != nil {
		return err
	}

	log.WithField("addr", srv.Addr()).Info("runison-server listening")

	return srv.Run()
}
