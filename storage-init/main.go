package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const queueAlreadyExists = "QueueAlreadyExists"

var (
	tableEnv = []string{"BOARDS_TABLE", "LOOKUPS_TABLE", "MEMBERSHIPS_TABLE", "USERS_TABLE", "ACTIVITIES_TABLE"}
	queueEnv = []string{"ACTIVITY_QUEUE"}
)

// resourceNames reads every name in keys and fails on the first unset one.
func resourceNames(getenv func(string) string, keys []string) ([]string, error) {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		v := getenv(k)
		if v == "" {
			return nil, fmt.Errorf("missing %s", k)
		}
		names = append(names, v)
	}
	return names, nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	tables, err := resourceNames(os.Getenv, tableEnv)
	if err != nil {
		log.Fatal(err)
	}
	queues, err := resourceNames(os.Getenv, queueEnv)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := createTables(ctx, connStr, tables); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := createQueues(ctx, connStr, queues); err != nil {
		log.Fatalf("create queues: %v", err)
	}
	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
				if alreadyExists(err, string(aztables.TableAlreadyExists)) {
					log.Debugf("table %s exists", name)
					return nil
				}
				return fmt.Errorf("%s: %w", name, err)
			}
			log.Infof("created table %s", name)
			return nil
		})
	}
	return g.Wait()
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil {
			if alreadyExists(err, queueAlreadyExists) {
				log.Debugf("queue %s exists", name)
				continue
			}
			return fmt.Errorf("%s: %w", name, err)
		}
		log.Infof("created queue %s", name)
	}
	return nil
}
