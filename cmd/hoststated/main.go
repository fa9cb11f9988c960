package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/Sh00ty/hoststated/internal/config"
	"github.com/Sh00ty/hoststated/internal/logger"
	"github.com/Sh00ty/hoststated/internal/models"
	"github.com/Sh00ty/hoststated/internal/supervisor"
)

type flags struct {
	configFile string
	debug      bool
	check      bool
	verbose    bool
	proc       string
}

func parseFlags() (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("hoststated", pflag.ContinueOnError)
	fs.StringVarP(&f.configFile, "file", "f", "", "topology file (default $HOSTSTATED_CONFIG)")
	fs.BoolVarP(&f.debug, "debug", "d", false, "log to the console in human readable form")
	fs.BoolVarP(&f.check, "check", "n", false, "only check the configuration")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	fs.StringVar(&f.proc, "proc", "", "child role")
	_ = fs.MarkHidden("proc")
	err := fs.Parse(os.Args[1:])
	return f, err
}

func main() {
	f, err := parseFlags()
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "hoststated: %v\n", err)
		os.Exit(supervisor.ExitStartup)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hoststated: failed to read app config: %v\n", err)
		os.Exit(supervisor.ExitStartup)
	}
	if f.configFile != "" {
		cfg.ConfigFile = f.configFile
	}

	proc := f.proc
	if proc == "" {
		proc = "parent"
	}
	logger.Setup(logger.Options{
		Level:      cfg.LoggerLevel,
		Foreground: f.debug,
		Verbose:    f.verbose,
		Proc:       proc,
	})

	switch supervisor.Role(f.proc) {
	case "":
		if f.check {
			os.Exit(checkConfig(cfg.ConfigFile))
		}
		os.Exit(runParent(cfg, f))
	case supervisor.RoleHCE:
		os.Exit(runHCE(cfg))
	case supervisor.RolePFE:
		os.Exit(runPFE(cfg))
	default:
		log.Error().Msgf("unknown process role %q", f.proc)
		os.Exit(supervisor.ExitStartup)
	}
}

func checkConfig(path string) int {
	reg, err := config.LoadTopology(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return supervisor.ExitStartup
	}
	printTopology(reg)
	fmt.Println("configuration OK")
	return supervisor.ExitOK
}

func printTopology(reg *models.Registry) {
	hosts, tables, services := reg.Len()
	fmt.Printf("%d services, %d tables, %d hosts\n", services, tables, hosts)
	for t := range reg.Tables() {
		fmt.Printf("table %s: check %s every %s, timeout %s\n",
			t.Name, t.Check.Strategy, t.Check.Interval, t.Check.Timeout)
		for h := range reg.TableHosts(t) {
			fmt.Printf("\thost %s %s\n", h.Name, h.Addr)
		}
	}
	for s := range reg.Services() {
		table, _ := reg.TableByID(s.TableID)
		fmt.Printf("service %s: table %s\n", s.Name, table.Name)
	}
}
