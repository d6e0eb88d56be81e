package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"quote-pipeline/src/broker"
	"quote-pipeline/src/config"
	"quote-pipeline/src/dlq"
	"quote-pipeline/src/logger"
)

// -----------------------------------------------------------------------------
// dlqctl is the operator tool for the dead-letter queue: inspect parked
// entries, force an immediate redelivery, or purge terminal ones.
//
//	dlqctl -config ../../config/default.yaml -list
//	dlqctl -config ../../config/default.yaml -retry <entry-id>
//	dlqctl -config ../../config/default.yaml -purge 24
// -----------------------------------------------------------------------------

func main() {
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	list := flag.Bool("list", false, "list pending entries")
	limit := flag.Int("limit", 50, "max entries to list")
	retryID := flag.String("retry", "", "entry id to redeliver immediately")
	purgeHours := flag.Int("purge", 0, "purge terminal entries older than N hours")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.NewLogger("WARNING", "dlqctl")

	brk, err := broker.NewBroker(cfg.Broker, appLogger)
	if err != nil {
		fmt.Printf("Error creating broker: %v\n", err)
		os.Exit(1)
	}
	if err := brk.Connect(); err != nil {
		fmt.Printf("Error connecting broker: %v\n", err)
		os.Exit(1)
	}
	defer brk.Disconnect()

	q := dlq.NewSQLiteDLQ(cfg.DLQ, brk, appLogger)
	if err := q.Initialize(); err != nil {
		fmt.Printf("Error opening DLQ: %v\n", err)
		os.Exit(1)
	}
	defer q.Stop()

	switch {
	case *list:
		entries, err := q.ListPending(*limit)
		if err != nil {
			fmt.Printf("List failed: %v\n", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			fmt.Println("No pending entries.")
			return
		}
		for _, e := range entries {
			fmt.Printf("%s  channel=%s attempts=%d next_retry=%s error=%s\n",
				e.ID, e.Channel, e.Attempts, time.Unix(e.NextRetry, 0).Format(time.RFC3339), e.ErrorMsg)
		}

	case *retryID != "":
		if err := q.Retry(*retryID); err != nil {
			fmt.Printf("Retry failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Entry %s redelivered.\n", *retryID)

	case *purgeHours > 0:
		deleted, err := q.PurgeTerminal(time.Duration(*purgeHours) * time.Hour)
		if err != nil {
			fmt.Printf("Purge failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Purged %d terminal entries.\n", deleted)

	default:
		flag.Usage()
		os.Exit(2)
	}
}
