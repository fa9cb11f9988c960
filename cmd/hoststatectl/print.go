package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Sh00ty/hoststated/internal/imsg"
	"github.com/Sh00ty/hoststated/internal/models"
)

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
}

func state(disabled bool) string {
	if disabled {
		return "disabled"
	}
	return "active"
}

func showSummary(c ctlClient, out io.Writer) error {
	s, err := c.Summary()
	if err != nil {
		return err
	}
	w := newTable(out)
	fmt.Fprintln(w, "TYPE\tNAME\tSTATE\tDETAIL")
	for _, svc := range s.Services {
		fmt.Fprintf(w, "service\t%s\t%s\t%s\n", svc.Service.Name, state(svc.Service.Disabled), serviceDetail(svc))
	}
	for _, t := range s.Tables {
		printTableRow(w, t)
	}
	return w.Flush()
}

func serviceDetail(svc imsg.CtlService) string {
	if svc.ActiveTable == "" {
		return "no active table"
	}
	return "-> " + svc.ActiveTable
}

func printTableRow(w io.Writer, t imsg.CtlTable) {
	fmt.Fprintf(w, "table\t%s\t%s\t%d/%d hosts up, %s check\n",
		t.Table.Name, state(t.Table.Disabled), t.Up, t.Hosts, t.Table.Check.Strategy)
}

func showTable(c ctlClient, out io.Writer, name string) error {
	view, err := c.Table(name)
	if err != nil {
		return err
	}
	w := newTable(out)
	fmt.Fprintln(w, "TYPE\tNAME\tSTATE\tDETAIL")
	printTableRow(w, view.Table)
	for _, h := range view.Hosts {
		printHostRow(w, h)
	}
	return w.Flush()
}

func printHostRow(w io.Writer, h models.Host) {
	st := h.Status.String()
	if h.Disabled {
		st = "disabled"
	}
	fmt.Fprintf(w, "host\t%s\t%s\t%s, %d/%d checks up\n", h.Name, st, h.Addr, h.UpCount, h.CheckCount)
}

func showService(c ctlClient, out io.Writer, name string) error {
	svc, err := c.Service(name)
	if err != nil {
		return err
	}
	w := newTable(out)
	fmt.Fprintln(w, "TYPE\tNAME\tSTATE\tDETAIL")
	fmt.Fprintf(w, "service\t%s\t%s\t%s\n", svc.Service.Name, state(svc.Service.Disabled), serviceDetail(svc))
	fmt.Fprintf(w, "\ttable\t\t%s\n", svc.TableName)
	if svc.BackupName != "" {
		fmt.Fprintf(w, "\tbackup\t\t%s\n", svc.BackupName)
	}
	for _, addr := range svc.Service.Virtual {
		fmt.Fprintf(w, "\tvirtual\t\t%s\n", addr)
	}
	return w.Flush()
}
