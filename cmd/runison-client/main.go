// Command runison-client runs a participant: it registers with a
// server, learns about other participants, and exchanges files and
// Greetings with them.
package main

import (
	"context"
	"flag"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bketelsen/runison/internal/config"
	"github.com/bketelsen/runison/participant"
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
		"client": c.client,
	}
}

func (c maincmd) client(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		name   = fs.String("n", "", "participant name")
		target = fs.String("t", "", "server address (host:port)")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *name == "" {
		return errors.New("-n (participant name) is required")
	}
	if *target == "" {
		return errors.New("-t (server address) is required")
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	p, err := participant.New(cfg, *name, "tcp", *target)
	if err != nil {
		return err
	}
	defer p.Close()

	log.WithField("name", *name).WithField("server", *target).Info("runison-client connected")

	return p.Run()
}
