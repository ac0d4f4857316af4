package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jkbrsn/plogwatch"
)

func main() {
	// Create the agent - the scheduler of all checks
	agent := plogwatch.New()
	defer agent.Close()

	// A local plog server with the default field table, polled every 5 seconds
	local := plogwatch.NewInstance()
	local.Interval = 5
	local.Tags = []string{"env:dev"}

	// An older server without handlers, polled under its own prefix
	prefix := "plog.legacy."
	legacy := plogwatch.NewInstance()
	legacy.Host = "10.0.4.12"
	legacy.Schema = "legacy"
	legacy.Prefix = &prefix

	// Print every sample as a JSON line, turning rates into per-second values
	reporter := plogwatch.NewDerivingReporter(plogwatch.NewJSONLinesReporter(os.Stdout))

	for id, inst := range map[string]plogwatch.Instance{"local": local, "legacy": legacy} {
		check, err := plogwatch.NewCheck(id, inst, reporter)
		if err != nil {
			fmt.Printf("Error creating check: %v\n", err)
			return
		}
		if err := agent.AddCheck(check); err != nil {
			fmt.Printf("Error adding check: %v\n", err)
			return
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	for {
		select {
		case res, ok := <-agent.Results():
			if !ok {
				fmt.Println("Channel closed")
				return
			}
			if res.Err != nil {
				fmt.Printf("%s: poll failed: %v\n", res.CheckID, res.Err)
				continue
			}
			fmt.Printf("%s: %d samples in %s\n", res.CheckID, len(res.Samples),
				res.Exchange.Latency().Round(time.Microsecond))
		case <-interrupt:
			return
		}
	}
}
