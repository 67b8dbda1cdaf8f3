package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"Stepwise-Agent/sdk/go/stepwise"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "status API base URL")
	limit := flag.Int("limit", 5, "number of history records to show")
	wait := flag.Bool("wait", false, "block until the agent is idle")
	flag.Parse()

	client, err := stepwise.NewClient(*addr, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *wait {
		if err := client.WaitForIdle(ctx, 2*time.Second); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	active, err := client.ActiveTask(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if active == nil {
		fmt.Println("agent is idle")
	} else {
		fmt.Printf("active %s: %s (%.0f%%)\n", active.ID, active.Description, active.Progress)
	}

	records, err := client.ListTasks(ctx, stepwise.ListQuery{Limit: *limit})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, rec := range records {
		fmt.Printf("%s  %-9s  %s\n", rec.StartedAt.Format(time.DateTime), rec.Status, rec.Description)
	}

	catalog, err := client.Capabilities(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	names := make([]string, len(catalog))
	for i, c := range catalog {
		names[i] = c.Name
	}
	fmt.Printf("capabilities: %s\n", strings.Join(names, ", "))
}
