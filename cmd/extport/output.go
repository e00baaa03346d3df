package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/newtron-network/extport/pkg/cli"
	"github.com/newtron-network/extport/pkg/store"
)

func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
func bold(s string) string   { return cli.Bold(s) }

// printJSON writes v as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printFields prints name/value pairs as a dotted list.
func printFields(fields ...string) {
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Printf("%s %s\n", cli.DotPad(fields[i], 18), cli.Dash(fields[i+1]))
	}
}

// maskIdentifier hides credential values in an identifier string.
func maskIdentifier(id string) string {
	parts := strings.Split(id, ";")
	for i, p := range parts {
		k, _, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "pwd", "ssid_pass":
			parts[i] = k + "=****"
		}
	}
	return strings.Join(parts, ";")
}

func printAttachmentPoint(ap *store.AttachmentPoint) error {
	if app.jsonOutput {
		masked := *ap
		masked.Identifier = maskIdentifier(ap.Identifier)
		return printJSON(&masked)
	}
	printFields(
		"id", ap.ID,
		"name", ap.Name,
		"index", strconv.Itoa(ap.Index),
		"tenant", ap.TenantID,
		"address", ap.IPAddress,
		"driver", ap.Driver,
		"identifier", maskIdentifier(ap.Identifier),
		"technology", ap.Technology,
		"admin state", adminState(ap.AdminStateUp),
		"state", string(ap.State),
		"status", cli.Status(string(ap.Status)),
		"network", ap.NetworkID,
		"error", ap.Error,
	)
	return nil
}

func adminState(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
