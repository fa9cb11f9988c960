package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/Sh00ty/hoststated/internal/config"
	"github.com/Sh00ty/hoststated/internal/control"
	"github.com/Sh00ty/hoststated/internal/imsg"
)

var errUsage = errors.New("usage")

const usage = `usage: hoststatectl [-s socket] command [argument]

commands:
  show summary
  show table NAME
  show service NAME
  host enable|disable NAME
  table enable|disable NAME
  log verbose|brief
  reload
`

// ctlClient is the part of control.Client the commands use.
type ctlClient interface {
	Summary() (control.Summary, error)
	Table(name string) (control.TableView, error)
	Service(name string) (imsg.CtlService, error)
	HostEnable(name string) error
	HostDisable(name string) error
	TableEnable(name string) error
	TableDisable(name string) error
	SetVerbose(verbose bool) error
	Reload() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hoststatectl: failed to read app config: %v\n", err)
		os.Exit(1)
	}

	fs := pflag.NewFlagSet("hoststatectl", pflag.ContinueOnError)
	socket := fs.StringP("socket", "s", cfg.ControlSocket, "control socket")
	timeout := fs.DurationP("timeout", "t", control.DefaultTimeout, "request timeout")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	err = run(fs.Args(), os.Stdout, func() (ctlClient, io.Closer, error) {
		c, err := control.Dial(*socket, *timeout)
		return c, c, err
	})
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "hoststatectl: %v\n", err)
		os.Exit(1)
	}
}

type dialFunc func() (ctlClient, io.Closer, error)

func run(args []string, out io.Writer, dial dialFunc) error {
	cmd, err := parseCommand(args)
	if err != nil {
		return err
	}
	c, closer, err := dial()
	if err != nil {
		return err
	}
	defer closer.Close()
	return cmd(c, out)
}

type command func(c ctlClient, out io.Writer) error

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	arg := func(i int) (string, error) {
		if len(args) != i+1 {
			return "", errUsage
		}
		return args[i], nil
	}

	switch args[0] {
	case "show":
		if len(args) < 2 {
			return nil, errUsage
		}
		switch args[1] {
		case "summary":
			if len(args) != 2 {
				return nil, errUsage
			}
			return showSummary, nil
		case "table":
			name, err := arg(2)
			if err != nil {
				return nil, err
			}
			return func(c ctlClient, out io.Writer) error { return showTable(c, out, name) }, nil
		case "service":
			name, err := arg(2)
			if err != nil {
				return nil, err
			}
			return func(c ctlClient, out io.Writer) error { return showService(c, out, name) }, nil
		}
	case "host", "table":
		if len(args) != 3 {
			return nil, errUsage
		}
		return toggle(args[0], args[1], args[2])
	case "log":
		mode, err := arg(1)
		if err != nil {
			return nil, err
		}
		switch mode {
		case "verbose", "brief":
			verbose := mode == "verbose"
			return func(c ctlClient, out io.Writer) error {
				if err := c.SetVerbose(verbose); err != nil {
					return err
				}
				fmt.Fprintf(out, "logging %s\n", mode)
				return nil
			}, nil
		}
	case "reload":
		if len(args) != 1 {
			return nil, errUsage
		}
		return func(c ctlClient, out io.Writer) error {
			if err := c.Reload(); err != nil {
				return err
			}
			fmt.Fprintln(out, "reload requested")
			return nil
		}, nil
	}
	return nil, errUsage
}

func toggle(kind, action, name string) (command, error) {
	var op func(c ctlClient) error
	switch {
	case kind == "host" && action == "enable":
		op = func(c ctlClient) error { return c.HostEnable(name) }
	case kind == "host" && action == "disable":
		op = func(c ctlClient) error { return c.HostDisable(name) }
	case kind == "table" && action == "enable":
		op = func(c ctlClient) error { return c.TableEnable(name) }
	case kind == "table" && action == "disable":
		op = func(c ctlClient) error { return c.TableDisable(name) }
	default:
		return nil, errUsage
	}
	return func(c ctlClient, out io.Writer) error {
		if err := op(c); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s %sd\n", kind, name, action)
		return nil
	}, nil
}

