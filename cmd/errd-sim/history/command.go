package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/rocketbitz/fabric-errd/device"
	"github.com/rocketbitz/fabric-errd/eventlog"
	"github.com/rocketbitz/fabric-errd/internal/log"
)

// Filter keeps events of kind, or all events when kind is empty.
func Filter(events []device.HistoryEvent, kind device.HistoryKind) []device.HistoryEvent {
	if kind == "" {
		return events
	}
	out := events[:0:0]
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Render writes events as a table with times relative to now.
func Render(w io.Writer, events []device.HistoryEvent, now time.Time) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Time", "Kind", "Domain", "Group", "Bit", "Name", "Action", "Bits", "Message"})
	for _, ev := range events {
		bit := fmt.Sprint(ev.Bit)
		if ev.Bit < 0 {
			bit = "-"
		}
		table.Append([]string{
			humanize.RelTime(ev.Time, now, "ago", "from now"),
			string(ev.Kind),
			ev.Domain,
			ev.Group,
			bit,
			ev.Name,
			ev.Action,
			fmt.Sprintf("%#x", ev.Bits),
			ev.Message,
		})
	}
	table.Render()
}

func Command(cliContext *cli.Context) error {
	zapLvl, err := log.ParseLogLevel(cliContext.String("log-level"))
	if err != nil {
		return err
	}
	log.SetLogger(log.CreateLogger(zapLvl, ""))

	file := cliContext.String("db")
	if file == "" {
		return errors.New("--db is required")
	}
	if _, err := os.Stat(file); err != nil {
		return err
	}

	store, err := eventlog.Open(file, eventlog.WithReadOnly(true))
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	var since time.Time
	if d := cliContext.Duration("since"); d > 0 {
		since = time.Now().Add(-d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	events, err := store.Get(ctx, since)
	if err != nil {
		return err
	}
	events = Filter(events, device.HistoryKind(cliContext.String("kind")))

	log.Logger.Debugw("read history", "file", file, "events", len(events))
	if len(events) == 0 {
		fmt.Println("no events")
		return nil
	}
	Render(os.Stdout, events, time.Now())
	fmt.Printf("\n%s events\n", humanize.Comma(int64(len(events))))
	return nil
}
