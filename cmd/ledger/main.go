// Command ledger prints recent relay events from the SQLite ledger.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stupiduntilnot/glmrelay/internal/db"
)

func main() {
	var (
		dbPath    string
		userID    int64
		limit     int
		jsonOut   bool
		noPayload bool
	)

	flag.StringVar(&dbPath, "db", envOrDefault("RELAY_DB_PATH", "state/relay.db"), "SQLite database path")
	flag.Int64Var(&userID, "user", 0, "only show events of this user (0 = all)")
	flag.IntVar(&limit, "n", 50, "number of events to show")
	flag.BoolVar(&jsonOut, "json", false, "output JSON format")
	flag.BoolVar(&noPayload, "no-payload", false, "hide payload details")
	flag.Parse()

	database, err := sql.Open("sqlite3", dbPath+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		ancli.Errf("open db: %v", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		ancli.Errf("ping db: %v", err)
		os.Exit(1)
	}

	events, err := (&db.Ledger{DB: database}).Recent(userID, limit)
	if err != nil {
		ancli.Errf("query events: %v", err)
		os.Exit(1)
	}

	// Oldest first reads naturally in a terminal.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	if jsonOut {
		err = printJSON(os.Stdout, events, noPayload)
	} else {
		printEvents(os.Stdout, events, noPayload)
	}
	if err != nil {
		ancli.Errf("write output: %v", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printEvents(w io.Writer, events []db.Event, noPayload bool) {
	for _, ev := range events {
		fmt.Fprintln(w, formatEvent(ev, noPayload))
	}
}

// formatEvent formats a single event line: [id] timestamp  user  event_type  key=value ...
func formatEvent(ev db.Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	user := "-"
	if ev.UserID != nil {
		user = fmt.Sprintf("%d", *ev.UserID)
	}
	line := fmt.Sprintf("[%d] %s  user=%s  %s", ev.ID, ts, user, ev.EventType)

	if !noPayload {
		keys := make([]string, 0, len(ev.Payload))
		for k := range ev.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line += fmt.Sprintf("  %s=%s", k, formatValue(ev.Payload[k]))
		}
	}
	return line
}

// formatValue converts a payload value to a display string, truncating long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q", val[:80]+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func printJSON(w io.Writer, events []db.Event, noPayload bool) error {
	if noPayload {
		for i := range events {
			events[i].Payload = nil
		}
	}
	if events == nil {
		events = []db.Event{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}
