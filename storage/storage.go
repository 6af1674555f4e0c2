package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// Config names the tables and queue used by Storage.
type Config struct {
	BoardsTable      string
	LookupsTable     string
	MembershipsTable string
	UsersTable       string
	ActivitiesTable  string
	ActivityQueue    string
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Storage provides access to the board tables and the activity queue.
type Storage struct {
	boards      *aztables.Client
	lookups     *aztables.Client
	memberships *aztables.Client
	users       *aztables.Client
	activities  *aztables.Client
	queue       queueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr string, cfg Config) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, cfg.ActivityQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boards:      svc.NewClient(cfg.BoardsTable),
		lookups:     svc.NewClient(cfg.LookupsTable),
		memberships: svc.NewClient(cfg.MembershipsTable),
		users:       svc.NewClient(cfg.UsersTable),
		activities:  svc.NewClient(cfg.ActivitiesTable),
		queue:       q,
	}, nil
}

// mapError translates Azure status codes into domain errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", respErr.ErrorCode, domain.ErrNotFound)
		case http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("%s: %w", respErr.ErrorCode, domain.ErrConcurrencyConflict)
		}
	}
	return err
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// listAll drains a pager over the given filter.
func listAll(ctx context.Context, client *aztables.Client, filter string) ([][]byte, error) {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var rows [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		rows = append(rows, resp.Entities...)
	}
	return rows, nil
}
